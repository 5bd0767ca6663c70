// Package canonical — детерминированная байтовая сериализация JSON (RFC 8785),
// ровно та форма, над которой считается и проверяется отсоединенная подпись.
// Любое расхождение в порядке ключей или форматировании чисел ломает
// все валидные подписи, поэтому преобразование делаем строго через JCS.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
)

// ErrMalformedMessage — сообщение невозможно канонически закодировать
// (несериализуемое значение либо битый JSON на входе).
var ErrMalformedMessage = errors.New("canonical: malformed message")

// Marshal сериализует значение в каноническую форму.
// HTML-экранирование выключено: подписант на другой стороне его не делает.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	// Encode добавляет перевод строки — для канонической формы он лишний
	return Transform(bytes.TrimRight(buf.Bytes(), "\n"))
}

// Transform приводит уже полученные JSON-байты к канонической форме.
// Проверка подписи всегда идет через Transform от сырого тела запроса,
// а не через повторную сериализацию распарсенной структуры.
func Transform(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return out, nil
}
