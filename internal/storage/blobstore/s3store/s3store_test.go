package s3store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/smithy-go"

	"github.com/bigkaa/phototimeline/internal/storage/blobstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T, endpoint string) *Store {
	t.Helper()
	s, err := New(context.Background(), Config{
		Endpoint:        endpoint,
		Region:          "us-east-1",
		Bucket:          "media",
		Prefix:          "media/",
		AccessKeyID:     "test",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	}, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания S3 store: %v", err)
	}
	return s
}

func TestNew_RequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{Region: "us-east-1"}, testLogger()); err == nil {
		t.Error("ожидалась ошибка без bucket")
	}
}

func TestPresignGet(t *testing.T) {
	s := newTestStore(t, "http://localhost:9000")

	url, err := s.PresignGet(context.Background(), "m-1", 15*time.Minute)
	if err != nil {
		t.Fatalf("ошибка подписи: %v", err)
	}
	if !strings.HasPrefix(url, "http://localhost:9000/media/media/m-1?") {
		t.Errorf("неожиданная ссылка: %s", url)
	}
	if !strings.Contains(url, "X-Amz-Expires=900") {
		t.Errorf("в ссылке нет срока действия: %s", url)
	}
}

func TestStat_HeadObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch r.URL.Path {
		case "/media/media/present":
			w.Header().Set("Content-Type", "video/mp4")
			w.Header().Set("Content-Length", "1234")
			w.Header().Set("Last-Modified", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Format(http.TimeFormat))
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := newTestStore(t, srv.URL)
	ctx := context.Background()

	info, err := s.Stat(ctx, "present")
	if err != nil {
		t.Fatalf("ошибка Stat: %v", err)
	}
	if info.Size != 1234 || info.ContentType != "video/mp4" {
		t.Errorf("неожиданные сведения: %+v", info)
	}

	if _, err := s.Stat(ctx, "absent"); !errors.Is(err, blobstore.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

func TestList_Pagination(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/xml")
		if r.URL.Query().Get("continuation-token") == "" {
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
<Name>media</Name><Prefix>media/</Prefix><KeyCount>2</KeyCount><MaxKeys>1000</MaxKeys>
<IsTruncated>true</IsTruncated><NextContinuationToken>next</NextContinuationToken>
<Contents><Key>media/a</Key><Size>1</Size></Contents>
<Contents><Key>media/nested/x</Key><Size>1</Size></Contents>
</ListBucketResult>`)
			return
		}
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
<Name>media</Name><Prefix>media/</Prefix><KeyCount>1</KeyCount><MaxKeys>1000</MaxKeys>
<IsTruncated>false</IsTruncated>
<Contents><Key>media/b</Key><Size>1</Size></Contents>
</ListBucketResult>`)
	}))
	defer srv.Close()

	s := newTestStore(t, srv.URL)
	ids, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("ошибка List: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("ожидалось [a b], получено %v", ids)
	}
	if calls != 2 {
		t.Errorf("ожидалось 2 запроса, получено %d", calls)
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(&smithy.GenericAPIError{Code: "NoSuchKey"}) {
		t.Error("NoSuchKey должен распознаваться как отсутствие объекта")
	}
	if !isNotFound(fmt.Errorf("обёртка: %w", &smithy.GenericAPIError{Code: "NotFound"})) {
		t.Error("обёрнутый NotFound должен распознаваться")
	}
	if isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}) {
		t.Error("AccessDenied не является отсутствием объекта")
	}
	if isNotFound(errors.New("сеть")) {
		t.Error("произвольная ошибка не является отсутствием объекта")
	}
}
