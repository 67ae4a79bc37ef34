package model

import (
	"fmt"
	"time"
)

// dateLayout — формат календарной даты в фильтре.
const dateLayout = "2006-01-02"

// DateRange — диапазон дат фильтра. Нулевое значение границы означает
// отсутствие ограничения с этой стороны. Обе границы включительные.
type DateRange struct {
	Start time.Time `json:"start,omitzero"`
	End   time.Time `json:"end,omitzero"`
}

// IsZero возвращает true, если диапазон не ограничен ни с одной стороны.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Contains проверяет попадание момента времени в диапазон.
func (r DateRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// FilterCriteria — критерии фильтрации таймлайна.
type FilterCriteria struct {
	// SearchText — подстрока подписи, без учёта регистра
	SearchText string `json:"search_text"`
	// DateRange — диапазон дат
	DateRange DateRange `json:"date_range"`
}

// ParseDateRange строит DateRange из календарных дат YYYY-MM-DD в зоне loc.
// Начало округляется до 00:00:00.000 дня, конец — до последней наносекунды дня.
// Пустая строка означает отсутствие границы.
func ParseDateRange(start, end string, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.Local
	}

	var r DateRange
	if start != "" {
		d, err := time.ParseInLocation(dateLayout, start, loc)
		if err != nil {
			return DateRange{}, fmt.Errorf("некорректная дата начала %q: ожидается YYYY-MM-DD", start)
		}
		r.Start = d
	}
	if end != "" {
		d, err := time.ParseInLocation(dateLayout, end, loc)
		if err != nil {
			return DateRange{}, fmt.Errorf("некорректная дата конца %q: ожидается YYYY-MM-DD", end)
		}
		r.End = EndOfDay(d)
	}
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return DateRange{}, fmt.Errorf("дата конца %s раньше даты начала %s", end, start)
	}
	return r, nil
}

// StartOfDay возвращает полночь календарного дня t в его зоне.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay возвращает последнюю наносекунду календарного дня t.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
