package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/android2133/articulo492/internal/domain"
)

// Result — результат успешного вызова обработчика шага.
type Result struct {
	// Context — дельта контекста, которую оркестратор вольёт
	// в контекст execution.
	Context domain.Context

	// Next — имя следующего шага, если обработчик явно его указал.
	// Пустая строка означает переход по порядку.
	Next string
}

// Invoker вызывает обработчик шага и возвращает дельту контекста.
type Invoker interface {
	Invoke(ctx context.Context, step *domain.Step, snapshot domain.Context) (*Result, error)
}

// HTTPInvoker — Invoker поверх HTTP.
//
// Контракт вызова: POST на endpoint шага с телом
//
//	{"step": <имя>, "context": <снимок контекста>, "config": <config шага>}
//
// Успешный ответ — JSON-объект. Если в нём есть ключ "context", дельтой
// считается его значение; иначе дельта — весь объект без ключа "next".
// Ключ "next" (строка) задаёт явный переход.
type HTTPInvoker struct {
	registry *Registry
	client   *http.Client
}

// NewHTTPInvoker создаёт HTTPInvoker.
func NewHTTPInvoker(registry *Registry) *HTTPInvoker {
	return &HTTPInvoker{
		registry: registry,
		client:   &http.Client{},
	}
}

// Invoke выполняет один вызов обработчика шага.
//
// Ошибки классифицированы: недоступность — UNREACHABLE, превышение
// таймаута — TIMEOUT, неуспешный HTTP-код — HANDLER_ERROR, ответ вне
// контракта — MALFORMED_RESPONSE. Все они возвращаются как *InvocationError.
func (inv *HTTPInvoker) Invoke(ctx context.Context, step *domain.Step, snapshot domain.Context) (*Result, error) {
	endpoint := inv.registry.Endpoint(step)

	ctx, cancel := context.WithTimeout(ctx, inv.registry.Timeout(step))
	defer cancel()

	payload := map[string]any{
		"step":    step.Name,
		"context": snapshot,
		"config":  step.Config,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := inv.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timeout("handler %s: %v", step.Name, err)
		}
		return nil, unreachable("handler %s: %v", step.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timeout("handler %s: read response: %v", step.Name, err)
		}
		return nil, unreachable("handler %s: read response: %v", step.Name, err)
	}

	if resp.StatusCode >= 400 {
		return nil, handlerError("handler %s: HTTP %d: %s", step.Name, resp.StatusCode, truncate(string(respBody), 200))
	}

	return parseResult(step.Name, respBody)
}

// parseResult разбирает тело ответа обработчика по контракту.
func parseResult(stepName string, body []byte) (*Result, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, malformed("handler %s: response is not a JSON object: %s", stepName, truncate(string(body), 200))
	}

	result := &Result{}

	if next, ok := raw["next"]; ok && next != nil {
		s, ok := next.(string)
		if !ok {
			return nil, malformed("handler %s: \"next\" must be a string", stepName)
		}
		result.Next = s
	}

	if ctxVal, ok := raw["context"]; ok {
		delta, ok := ctxVal.(map[string]any)
		if !ok {
			return nil, malformed("handler %s: \"context\" must be an object", stepName)
		}
		result.Context = domain.Context(delta)
		return result, nil
	}

	// Без явного "context" дельтой считается весь ответ минус "next".
	delta := make(domain.Context, len(raw))
	for k, v := range raw {
		if k == "next" {
			continue
		}
		delta[k] = v
	}
	result.Context = delta
	return result, nil
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
