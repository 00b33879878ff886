package chatclient

import "strings"

var fallbacks = map[string]string{
	"en": "No visible output. The model may have refused or produced an empty response. Try rephrasing or ask a more specific question.",
	"uk": "Немає вихідного тексту. Модель могла відмовити або повернути порожню відповідь. Спробуйте переформулювати або поставити більш конкретне питання.",
	"ru": "Нет текста ответа. Модель могла отказать или вернуть пустой ответ. Попробуйте переформулировать вопрос и уточнить контекст.",
}

// Fallback is shown in place of an answer that streamed no text. Languages
// other than English and Ukrainian get the Russian text.
func Fallback(lang string) string {
	if text, ok := fallbacks[strings.ToLower(strings.TrimSpace(lang))]; ok {
		return text
	}
	return fallbacks["ru"]
}
