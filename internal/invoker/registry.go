package invoker

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/android2133/articulo492/internal/domain"
)

const defaultHandlerTimeout = 30 * time.Second

// Registry определяет, куда и с каким таймаутом идёт вызов обработчика шага.
//
// Endpoint по умолчанию строится из базового URL: <base>/<имя шага>.
// Шаг может переопределить его через config["endpoint"], а таймаут —
// через config["timeout_sec"].
type Registry struct {
	baseURL string
}

// NewRegistry создаёт Registry с базовым URL обработчиков.
// Пустой baseURL берётся из HANDLER_URL.
func NewRegistry(baseURL string) *Registry {
	if baseURL == "" {
		baseURL = os.Getenv("HANDLER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8094/handlers"
	}
	return &Registry{baseURL: strings.TrimRight(baseURL, "/")}
}

// Endpoint возвращает URL обработчика шага.
func (r *Registry) Endpoint(step *domain.Step) string {
	if ep := getString(step.Config, "endpoint", ""); ep != "" {
		return ep
	}
	return fmt.Sprintf("%s/%s", r.baseURL, step.Name)
}

// Timeout возвращает таймаут вызова обработчика шага.
func (r *Registry) Timeout(step *domain.Step) time.Duration {
	if val, ok := step.Config["timeout_sec"]; ok {
		switch v := val.(type) {
		case float64:
			if v > 0 {
				return time.Duration(v * float64(time.Second))
			}
		case int:
			if v > 0 {
				return time.Duration(v) * time.Second
			}
		}
	}
	return defaultHandlerTimeout
}

// getString извлекает строку из map с default значением.
func getString(m map[string]any, key, defaultVal string) string {
	if val, ok := m[key]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultVal
}
