package model

// LegacyPhoto — запись старого формата: плоский массив "photos"
// с содержимым, встроенным в data URL.
type LegacyPhoto struct {
	ID      string `json:"id"`
	Date    string `json:"date"`
	Caption string `json:"caption"`
	DataURL string `json:"dataUrl"`
}
