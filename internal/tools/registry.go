// Package tools — реестр инструментов для поверхности /v1/tools.
// Инструмент — это именованный алиас сервисного контракта с флагом HITL.
package tools

import "github.com/amorce-labs/nexus-gateway/internal/infra"

// Descriptor описывает один инструмент так, как его видит вызывающий агент.
type Descriptor struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ServiceID    string `json:"service_id"`
	RequiresHITL bool   `json:"requires_hitl"`
}

// Registry — неизменяемый после старта набор инструментов из конфига.
// Иммутабельность избавляет от блокировок в Hot Path.
type Registry struct {
	byName map[string]Descriptor
	order  []string
}

func NewRegistry(configs []infra.ToolConfig) *Registry {
	r := &Registry{byName: make(map[string]Descriptor, len(configs))}
	for _, c := range configs {
		if c.Name == "" {
			continue
		}
		r.byName[c.Name] = Descriptor{
			Name:         c.Name,
			Description:  c.Description,
			ServiceID:    c.ServiceID,
			RequiresHITL: c.RequiresHITL,
		}
		r.order = append(r.order, c.Name)
	}
	return r
}

// Get возвращает дескриптор по имени инструмента.
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// List — все инструменты в порядке объявления в конфиге.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}
