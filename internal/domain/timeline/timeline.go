// Пакет timeline — чистые функции построения представления таймлайна:
// фильтрация по подписи и дате, сортировка, группировка по дням,
// пагинация и навигация просмотрщика.
//
// Функции не изменяют входные данные и не возвращают ошибок.
package timeline

import (
	"sort"
	"strings"
	"time"

	"github.com/bigkaa/phototimeline/internal/domain/model"
)

// Matches проверяет соответствие записи критериям фильтра.
// Пустой (или из одних пробелов) SearchText совпадает с любой подписью.
func Matches(rec model.MediaRecord, criteria model.FilterCriteria) bool {
	// Пробелы не обрезаются: " day" и "day " — разные подстроки.
	if q := criteria.SearchText; strings.TrimSpace(q) != "" {
		if !strings.Contains(strings.ToLower(rec.Caption), strings.ToLower(q)) {
			return false
		}
	}
	return criteria.DateRange.Contains(rec.Timestamp)
}

// Query возвращает записи, удовлетворяющие критериям, отсортированные
// по Timestamp по убыванию. При равных Timestamp сохраняется порядок
// входной последовательности (порядок вставки).
func Query(records []model.MediaRecord, criteria model.FilterCriteria) []model.MediaRecord {
	result := make([]model.MediaRecord, 0, len(records))
	for _, rec := range records {
		if Matches(rec, criteria) {
			result = append(result, rec)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return result
}

// DayGroup — элементы одного календарного дня.
type DayGroup struct {
	// Day — дата в формате YYYY-MM-DD
	Day   string              `json:"day"`
	Items []model.MediaRecord `json:"items"`
}

// GroupByDay группирует уже отсортированную последовательность по
// календарным дням в зоне loc. Порядок групп и элементов сохраняется.
func GroupByDay(records []model.MediaRecord, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}

	groups := make([]DayGroup, 0)
	for _, rec := range records {
		day := rec.Timestamp.In(loc).Format("2006-01-02")
		if n := len(groups); n > 0 && groups[n-1].Day == day {
			groups[n-1].Items = append(groups[n-1].Items, rec)
			continue
		}
		groups = append(groups, DayGroup{Day: day, Items: []model.MediaRecord{rec}})
	}
	return groups
}

// Page — страница последовательности.
type Page struct {
	Items   []model.MediaRecord
	Total   int
	HasMore bool
}

// Paginate возвращает срез [offset, offset+limit). limit <= 0 — без ограничения.
func Paginate(records []model.MediaRecord, limit, offset int) Page {
	total := len(records)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}

	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	items := make([]model.MediaRecord, end-offset)
	copy(items, records[offset:end])

	return Page{
		Items:   items,
		Total:   total,
		HasMore: end < total,
	}
}

// Navigate возвращает соседний элемент последовательности со смещением step
// (+1 — следующий, -1 — предыдущий). На краях позиция не меняется,
// перехода по кругу нет. ok=false, если current отсутствует в sequence.
func Navigate(sequence []string, current string, step int) (string, bool) {
	idx := -1
	for i, id := range sequence {
		if id == current {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", false
	}

	next := idx + step
	if next < 0 {
		next = 0
	}
	if next >= len(sequence) {
		next = len(sequence) - 1
	}
	return sequence[next], true
}

// IDs возвращает идентификаторы записей в порядке последовательности.
func IDs(records []model.MediaRecord) []string {
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return ids
}
