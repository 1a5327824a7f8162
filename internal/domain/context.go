package domain

// Context — накопительное состояние execution: произвольные пары
// ключ/значение, протаскиваемые через все шаги.
//
// Значениями могут быть строки, числа, булевы, nil, вложенные
// map[string]any и []any — то, что переживает JSON round-trip.
type Context map[string]any

// Clone возвращает глубокую копию контекста.
//
// Используется для снимка input_payload перед вызовом обработчика:
// обработчик и последующие шаги не должны видеть изменения снимка.
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge вливает delta в контекст: ключи из delta перезаписывают
// существующие, остальные ключи сохраняются. Слияние всегда
// "last-writer-wins" по ключу верхнего уровня — глубокого
// рекурсивного слияния нет, семантика должна оставаться предсказуемой.
func (c Context) Merge(delta Context) {
	for k, v := range delta {
		c[k] = cloneValue(v)
	}
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case Context:
		return map[string]any(val.Clone())
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
