package apiview

import "unicode/utf8"

// MaxLoggedBody: сколько символов тела сохраняется в журнале внешних вызовов.
const MaxLoggedBody = 1000

// Truncate обрезает строку до limit символов, не разрывая руны.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
