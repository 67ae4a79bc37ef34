package model

import "fmt"

// Layout — вариант раскладки таймлайна.
type Layout string

const (
	LayoutDatedGrid Layout = "dated-grid"
	LayoutGrid      Layout = "grid"
	LayoutList      Layout = "list"
)

// layoutOrder — фиксированный порядок циклического переключения.
var layoutOrder = []Layout{LayoutDatedGrid, LayoutGrid, LayoutList}

// DefaultLayout — раскладка при отсутствии сохранённого значения.
const DefaultLayout = LayoutDatedGrid

// Next возвращает следующую раскладку по кругу.
// Для неизвестного значения возвращается первая раскладка.
func (l Layout) Next() Layout {
	for i, v := range layoutOrder {
		if v == l {
			return layoutOrder[(i+1)%len(layoutOrder)]
		}
	}
	return layoutOrder[0]
}

// ParseLayout преобразует строку в Layout.
func ParseLayout(s string) (Layout, error) {
	for _, v := range layoutOrder {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("недопустимая раскладка: %q, допустимые: dated-grid, grid, list", s)
}

// Theme — цветовая тема интерфейса.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// DefaultTheme — тема при отсутствии сохранённого значения.
const DefaultTheme = ThemeDark

// Toggle переключает тему.
func (t Theme) Toggle() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// ParseTheme преобразует строку в Theme.
func ParseTheme(s string) (Theme, error) {
	switch Theme(s) {
	case ThemeLight, ThemeDark:
		return Theme(s), nil
	default:
		return "", fmt.Errorf("недопустимая тема: %q, допустимые: light, dark", s)
	}
}

// Settings — пользовательские настройки отображения.
type Settings struct {
	Layout Layout `json:"layout"`
	Theme  Theme  `json:"theme"`
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{Layout: DefaultLayout, Theme: DefaultTheme}
}
