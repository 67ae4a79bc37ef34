package metastore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DecodeDataURL разбирает data URL вида data:<mime>[;base64],<data>.
// Возвращает MIME-тип и декодированные байты.
func DecodeDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, errors.New("data URL должен начинаться с data:")
	}

	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errors.New("в data URL отсутствуют данные")
	}

	isBase64 := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		meta = m
		isBase64 = true
	}

	contentType := meta
	if contentType == "" {
		contentType = "text/plain;charset=US-ASCII"
	}

	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Встречаются data URL без паддинга
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
			if err != nil {
				return "", nil, fmt.Errorf("некорректный base64 в data URL: %w", err)
			}
		}
		return contentType, data, nil
	}

	data, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("некорректное содержимое data URL: %w", err)
	}
	return contentType, []byte(data), nil
}
