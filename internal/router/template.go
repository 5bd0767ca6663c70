package router

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/amorce-labs/nexus-gateway/internal/domain"
)

// BuildEndpoint интерполирует шаблон пути контракта значениями из payload
// транзакции и приклеивает результат к базовому URL провайдера.
// Плейсхолдер без значения в payload — это MalformedRequest,
// молча выбрасывать его нельзя.
func BuildEndpoint(base, template string, payload map[string]interface{}) (string, error) {
	var sb strings.Builder
	rest := template

	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			sb.WriteString(rest)
			break
		}
		close := strings.IndexByte(rest[open:], '}')
		if close < 0 {
			return "", fmt.Errorf("unterminated placeholder in endpoint template %q", template)
		}
		close += open

		sb.WriteString(rest[:open])
		name := rest[open+1 : close]

		raw, ok := payload[name]
		if !ok {
			return "", fmt.Errorf("payload is missing value for placeholder %q", name)
		}
		val, err := placeholderValue(raw)
		if err != nil {
			return "", fmt.Errorf("placeholder %q: %w", name, err)
		}
		sb.WriteString(url.PathEscape(val))

		rest = rest[close+1:]
	}

	return strings.TrimRight(base, "/") + sb.String(), nil
}

func placeholderValue(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64: // JSON-числа всегда приходят как float64
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("value of type %T cannot be bound into a path", raw)
	}
}

// endpointFor собирает конечный URL из записи провайдера и контракта.
func endpointFor(provider *domain.AgentIdentityRecord, contract *domain.ServiceContract, payload map[string]interface{}) (string, error) {
	base := provider.Endpoint()
	if base == "" {
		return "", fmt.Errorf("provider %s declares no api_endpoint", provider.AgentID)
	}
	return BuildEndpoint(base, contract.EndpointTemplate(), payload)
}
