package service

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/phototimeline/internal/domain/model"
	"github.com/bigkaa/phototimeline/internal/domain/selection"
	"github.com/bigkaa/phototimeline/internal/handle"
	"github.com/bigkaa/phototimeline/internal/storage/blobstore"
	"github.com/bigkaa/phototimeline/internal/storage/blobstore/filestore"
	"github.com/bigkaa/phototimeline/internal/storage/kv"
	"github.com/bigkaa/phototimeline/internal/storage/kv/filekv"
	"github.com/bigkaa/phototimeline/internal/storage/metastore"
	"github.com/bigkaa/phototimeline/internal/storage/wal"
)

var errInjected = errors.New("сбой хранилища")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// flakyBlobs — обёртка над хранилищем содержимого с внедрением ошибок.
type flakyBlobs struct {
	blobstore.Store
	mu         sync.Mutex
	failPut    bool
	failDelete map[string]bool
}

func (f *flakyBlobs) Put(ctx context.Context, id string, r io.Reader, ct string) (*blobstore.PutResult, error) {
	f.mu.Lock()
	fail := f.failPut
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return f.Store.Put(ctx, id, r, ct)
}

func (f *flakyBlobs) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	fail := f.failDelete[id]
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Store.Delete(ctx, id)
}

func (f *flakyBlobs) Unwrap() blobstore.Store { return f.Store }

// flakyKV — обёртка над слотами с внедрением ошибок записи.
type flakyKV struct {
	kv.Store
	mu      sync.Mutex
	failPut bool
}

func (f *flakyKV) Put(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	fail := f.failPut
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Store.Put(ctx, key, value)
}

type testEnv struct {
	dir     string
	kv      *flakyKV
	blobs   *flakyBlobs
	fs      *filestore.FileStore
	journal *wal.Journal
	handles *handle.Registry
	m       *MediaManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvAt(t, t.TempDir(), MediaConfig{Location: time.UTC})
}

func newTestEnvAt(t *testing.T, dir string, cfg MediaConfig) *testEnv {
	t.Helper()

	slots, err := filekv.New(filepath.Join(dir, "meta"))
	if err != nil {
		t.Fatalf("ошибка создания filekv: %v", err)
	}
	fs, err := filestore.New(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("ошибка создания filestore: %v", err)
	}
	w, err := wal.Open(filepath.Join(dir, "wal"), testLogger())
	if err != nil {
		t.Fatalf("ошибка открытия журнала: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	reg, err := handle.New(time.Hour)
	if err != nil {
		t.Fatalf("ошибка создания реестра ссылок: %v", err)
	}

	env := &testEnv{
		dir:     dir,
		kv:      &flakyKV{Store: slots},
		blobs:   &flakyBlobs{Store: fs, failDelete: map[string]bool{}},
		fs:      fs,
		journal: w,
		handles: reg,
	}
	env.m = NewMediaManager(metastore.New(env.kv, testLogger()), env.blobs, w, reg, cfg, testLogger())
	if _, err := env.m.Load(context.Background()); err != nil {
		t.Fatalf("ошибка Load: %v", err)
	}
	return env
}

func (e *testEnv) add(t *testing.T, caption string, ts time.Time) model.ResolvedMediaItem {
	t.Helper()
	item, err := e.m.Add(context.Background(), AddParams{
		Reader:      strings.NewReader("content of " + caption),
		Filename:    "photo.png",
		ContentType: "image/png",
		Caption:     caption,
		Timestamp:   ts,
	})
	if err != nil {
		t.Fatalf("ошибка Add: %v", err)
	}
	return item
}

func day(d, h int) time.Time {
	return time.Date(2024, 1, d, h, 0, 0, 0, time.UTC)
}

func TestAdd_ThenSearch(t *testing.T) {
	env := newTestEnv(t)
	item := env.add(t, "Beach day", day(2, 10))

	if item.ID == "" || item.URL == "" {
		t.Fatalf("ожидались id и ссылка, получено %+v", item)
	}
	if item.Kind != model.KindImage {
		t.Errorf("ожидался тип image, получен %s", item.Kind)
	}

	if got := env.m.Query(model.FilterCriteria{SearchText: "beach"}); len(got) != 1 {
		t.Errorf("поиск beach: ожидался 1 элемент, получено %d", len(got))
	}
	if got := env.m.Query(model.FilterCriteria{SearchText: "BEACH"}); len(got) != 1 {
		t.Errorf("поиск BEACH: ожидался 1 элемент, получено %d", len(got))
	}
	if got := env.m.Query(model.FilterCriteria{SearchText: "mountain"}); len(got) != 0 {
		t.Errorf("поиск mountain: ожидалось 0 элементов, получено %d", len(got))
	}

	obj, err := env.fs.Open(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("содержимое не записано: %v", err)
	}
	obj.Body.Close()
}

func TestQuery_SortedDescending(t *testing.T) {
	env := newTestEnv(t)
	a := env.add(t, "a", day(1, 10))
	b := env.add(t, "b", day(3, 10))
	c := env.add(t, "c", day(2, 10))

	items := env.m.Items()
	want := []string{b.ID, c.ID, a.ID}
	if len(items) != 3 {
		t.Fatalf("ожидалось 3 элемента, получено %d", len(items))
	}
	for i, id := range want {
		if items[i].ID != id {
			t.Errorf("позиция %d: ожидался %s, получен %s", i, id, items[i].ID)
		}
	}
}

func TestAdd_BlobFailure_StateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	env.blobs.failPut = true

	_, err := env.m.Add(context.Background(), AddParams{
		Reader: strings.NewReader("x"), ContentType: "image/png",
	})
	if !errors.Is(err, errInjected) {
		t.Fatalf("ожидалась ошибка хранилища, получено %v", err)
	}
	if n := len(env.m.Items()); n != 0 {
		t.Errorf("ожидалось 0 элементов, получено %d", n)
	}

	snap, err := metastore.New(env.kv, testLogger()).Load(context.Background())
	if err != nil {
		t.Fatalf("ошибка чтения метаданных: %v", err)
	}
	if len(snap.Records) != 0 {
		t.Errorf("метаданные не должны записываться, записей: %d", len(snap.Records))
	}

	pending := env.journal.Pending()
	if len(pending) != 0 {
		t.Errorf("транзакция должна быть откатана, pending: %d", len(pending))
	}
}

func TestAdd_MetadataFailure_BlobRemoved(t *testing.T) {
	env := newTestEnv(t)
	env.kv.failPut = true

	_, err := env.m.Add(context.Background(), AddParams{
		Reader: strings.NewReader("x"), ContentType: "image/png",
	})
	if !errors.Is(err, errInjected) {
		t.Fatalf("ожидалась ошибка метаданных, получено %v", err)
	}
	if n := len(env.m.Items()); n != 0 {
		t.Errorf("ожидалось 0 элементов, получено %d", n)
	}
	ids, _ := env.fs.List(context.Background())
	if len(ids) != 0 {
		t.Errorf("записанное содержимое должно быть удалено, осталось %v", ids)
	}
	if env.handles.Outstanding() != 0 {
		t.Errorf("ссылки не должны выдаваться, выдано %d", env.handles.Outstanding())
	}
}

func TestAdd_Validation(t *testing.T) {
	env := newTestEnvAt(t, t.TempDir(), MediaConfig{Location: time.UTC, MaxFileSize: 4})
	ctx := context.Background()

	if _, err := env.m.Add(ctx, AddParams{Reader: strings.NewReader("text"), ContentType: "text/plain"}); !errors.Is(err, model.ErrUnsupportedKind) {
		t.Errorf("ожидалась ErrUnsupportedKind, получено %v", err)
	}
	if _, err := env.m.Add(ctx, AddParams{Reader: strings.NewReader("0123456789"), ContentType: "image/png"}); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("ожидалась ErrFileTooLarge, получено %v", err)
	}
	if _, err := env.m.Add(ctx, AddParams{Reader: strings.NewReader(""), ContentType: "video/mp4"}); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("ожидалась ErrEmptyFile, получено %v", err)
	}
	if _, err := env.m.Add(ctx, AddParams{Reader: strings.NewReader("x"), Size: 100, ContentType: "image/png"}); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("заявленный размер: ожидалась ErrFileTooLarge, получено %v", err)
	}

	ids, _ := env.fs.List(ctx)
	if len(ids) != 0 {
		t.Errorf("отклонённое содержимое не должно оставаться, осталось %v", ids)
	}
}

func TestAdd_ContentTypeByExtension(t *testing.T) {
	env := newTestEnv(t)
	item, err := env.m.Add(context.Background(), AddParams{
		Reader:      strings.NewReader("not really a video"),
		Filename:    "/tmp/clip.mp4",
		ContentType: "application/octet-stream",
	})
	if err != nil {
		t.Fatalf("ошибка Add: %v", err)
	}
	if item.Kind != model.KindVideo {
		t.Errorf("ожидался тип video, получен %s", item.Kind)
	}
	if item.OriginalFilename != "clip.mp4" {
		t.Errorf("ожидалось имя clip.mp4, получено %q", item.OriginalFilename)
	}
}

func TestDelete_ReleasesHandleOnce(t *testing.T) {
	env := newTestEnv(t)
	item := env.add(t, "a", day(1, 10))
	other := env.add(t, "b", day(2, 10))

	if env.handles.Outstanding() != 2 {
		t.Fatalf("ожидалось 2 ссылки, получено %d", env.handles.Outstanding())
	}

	res := env.m.Delete(context.Background(), []string{item.ID, item.ID})
	if res.Err() != nil {
		t.Fatalf("ошибка Delete: %v", res.Err())
	}
	if res.Count() != 1 {
		t.Errorf("ожидалось 1 удаление, получено %d", res.Count())
	}
	if env.handles.Outstanding() != 1 {
		t.Errorf("ожидалась 1 ссылка, получено %d", env.handles.Outstanding())
	}
	if err := env.handles.Release(strings.TrimPrefix(item.URL, "/blobs/")); !errors.Is(err, handle.ErrReleased) {
		t.Errorf("ссылка удалённого элемента должна быть освобождена, получено %v", err)
	}

	again := env.m.Delete(context.Background(), []string{item.ID})
	if again.Count() != 0 || len(again.AlreadyAbsent) != 1 {
		t.Errorf("повторное удаление: ожидался already_absent, получено %s", again)
	}
	if env.handles.Outstanding() != 1 {
		t.Errorf("повторное удаление не должно освобождать ссылки, осталось %d", env.handles.Outstanding())
	}

	items := env.m.Items()
	if len(items) != 1 || items[0].ID != other.ID {
		t.Errorf("ожидался только %s, получено %v", other.ID, items)
	}
}

func TestDelete_ConcurrentSameID(t *testing.T) {
	env := newTestEnv(t)
	item := env.add(t, "a", day(1, 10))

	var wg sync.WaitGroup
	var mu sync.Mutex
	deleted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := env.m.Delete(context.Background(), []string{item.ID})
			mu.Lock()
			deleted += res.Count()
			mu.Unlock()
		}()
	}
	wg.Wait()

	if deleted != 1 {
		t.Errorf("элемент должен удаляться ровно один раз, удалений: %d", deleted)
	}
	if env.handles.Outstanding() != 0 {
		t.Errorf("ожидалось 0 ссылок, получено %d", env.handles.Outstanding())
	}
}

func TestDelete_ConcurrentReadsLeaveNoHandles(t *testing.T) {
	env := newTestEnv(t)
	ids := make([]string, 0, 150)
	for i := 0; i < 150; i++ {
		ids = append(ids, env.add(t, "item", day(1+i%28, i%24)).ID)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = env.m.Items()
				}
			}
		}()
	}

	for _, id := range ids {
		if res := env.m.Delete(context.Background(), []string{id}); res.Count() != 1 {
			t.Errorf("ожидалось удаление %s, получено %s", id, res)
		}
	}
	close(stop)
	wg.Wait()

	for _, id := range ids {
		if env.handles.Holds(id) {
			t.Errorf("у удалённого элемента %s осталась ссылка", id)
		}
	}
	if n := env.handles.Outstanding(); n != 0 {
		t.Errorf("ожидалось 0 ссылок, получено %d", n)
	}
}

func TestDelete_PartialFailure(t *testing.T) {
	env := newTestEnv(t)
	a := env.add(t, "a", day(1, 10))
	b := env.add(t, "b", day(2, 10))
	env.blobs.failDelete[b.ID] = true

	res := env.m.Delete(context.Background(), []string{a.ID, b.ID, "unknown"})
	if res.Count() != 1 || res.Deleted[0] != a.ID {
		t.Errorf("ожидалось удаление %s, получено %v", a.ID, res.Deleted)
	}
	if _, ok := res.Failed[b.ID]; !ok {
		t.Errorf("ожидалась ошибка для %s", b.ID)
	}
	if len(res.AlreadyAbsent) != 1 || res.AlreadyAbsent[0] != "unknown" {
		t.Errorf("ожидался already_absent [unknown], получено %v", res.AlreadyAbsent)
	}
	if !errors.Is(res.Err(), errInjected) {
		t.Errorf("Err должен содержать ошибку хранилища, получено %v", res.Err())
	}

	items := env.m.Items()
	if len(items) != 1 || items[0].ID != b.ID {
		t.Errorf("неудачно удалённый элемент должен остаться, получено %v", items)
	}

	env.blobs.failDelete[b.ID] = false
	retry := env.m.Delete(context.Background(), []string{b.ID})
	if retry.Count() != 1 {
		t.Errorf("повтор должен удалить элемент, получено %s", retry)
	}
}

func TestDelete_MetadataFailure_ExcludedAndRecovered(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnvAt(t, dir, MediaConfig{Location: time.UTC})
	a := env.add(t, "a", day(1, 10))
	env.kv.failPut = true

	res := env.m.Delete(context.Background(), []string{a.ID})
	if _, ok := res.Failed[a.ID]; !ok {
		t.Fatalf("ожидалась ошибка записи метаданных, получено %s", res)
	}
	if n := len(env.m.Items()); n != 0 {
		t.Errorf("элемент без содержимого должен быть исключён, элементов: %d", n)
	}

	// Рестарт: незавершённое удаление доводится до конца
	restarted := newTestEnvAt(t, dir, MediaConfig{Location: time.UTC})
	snap, err := metastore.New(restarted.kv, testLogger()).Load(context.Background())
	if err != nil {
		t.Fatalf("ошибка чтения метаданных: %v", err)
	}
	if len(snap.Records) != 0 {
		t.Errorf("после восстановления записей быть не должно, получено %d", len(snap.Records))
	}
}

func TestDelete_ClearsSelectionAndViewer(t *testing.T) {
	env := newTestEnv(t)
	a := env.add(t, "a", day(1, 10))
	b := env.add(t, "b", day(2, 10))

	if _, err := env.m.EnterSelection(a.ID); err != nil {
		t.Fatalf("ошибка EnterSelection: %v", err)
	}
	if _, err := env.m.ToggleSelection(b.ID); err != nil {
		t.Fatalf("ошибка ToggleSelection: %v", err)
	}
	if _, err := env.m.OpenViewer(a.ID); err != nil {
		t.Fatalf("ошибка OpenViewer: %v", err)
	}

	env.m.Delete(context.Background(), []string{a.ID})

	snap := env.m.Selection()
	if len(snap.Selected) != 1 || snap.Selected[0] != b.ID {
		t.Errorf("в выборе должен остаться только %s, получено %v", b.ID, snap.Selected)
	}
	if _, open := env.m.ViewerCurrent(); open {
		t.Error("просмотр удалённого элемента должен быть закрыт")
	}
}

func TestSelection_EnterThenToggleIsIdle(t *testing.T) {
	env := newTestEnv(t)
	a := env.add(t, "a", day(1, 10))

	if _, err := env.m.EnterSelection(a.ID); err != nil {
		t.Fatalf("ошибка EnterSelection: %v", err)
	}
	snap, err := env.m.ToggleSelection(a.ID)
	if err != nil {
		t.Fatalf("ошибка ToggleSelection: %v", err)
	}
	if snap.State != selection.StateIdle || len(snap.Selected) != 0 {
		t.Errorf("ожидалось idle с пустым выбором, получено %+v", snap)
	}

	if _, err := env.m.EnterSelection("unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

func TestSelection_DeleteDuringEnter(t *testing.T) {
	env := newTestEnv(t)
	a := env.add(t, "a", day(1, 10))

	done := make(chan struct{})
	env.m.beforeSelect = func(id string) {
		env.m.beforeSelect = nil
		go func() {
			defer close(done)
			env.m.Delete(context.Background(), []string{id})
		}()
		// Удаление не должно завершиться, пока выполняется переход
		select {
		case <-done:
		case <-time.After(200 * time.Millisecond):
		}
	}

	_, _ = env.m.EnterSelection(a.ID)
	<-done

	snap := env.m.Selection()
	if snap.State != selection.StateIdle || len(snap.Selected) != 0 {
		t.Errorf("удалённый элемент не должен оставаться выбранным, получено %+v", snap)
	}
}

func TestPointerDown_DeleteDuringPress(t *testing.T) {
	env := newTestEnvAt(t, t.TempDir(), MediaConfig{Location: time.UTC, LongPressDuration: time.Hour})
	a := env.add(t, "a", day(1, 10))

	done := make(chan struct{})
	env.m.beforeSelect = func(id string) {
		env.m.beforeSelect = nil
		go func() {
			defer close(done)
			env.m.Delete(context.Background(), []string{id})
		}()
		select {
		case <-done:
		case <-time.After(200 * time.Millisecond):
		}
	}

	_ = env.m.PointerDown(a.ID)
	<-done

	if id, ok := env.m.press.Pending(); ok {
		t.Errorf("удержание удалённого элемента %s должно быть отменено", id)
	}
}

func TestConfirmSelectionDelete(t *testing.T) {
	env := newTestEnv(t)
	a := env.add(t, "a", day(1, 10))
	b := env.add(t, "b", day(2, 10))
	c := env.add(t, "c", day(3, 10))

	if _, err := env.m.ConfirmSelectionDelete(context.Background()); err == nil {
		t.Error("ожидалась ошибка без активного выбора")
	}

	_, _ = env.m.EnterSelection(a.ID)
	_, _ = env.m.ToggleSelection(b.ID)

	res, err := env.m.ConfirmSelectionDelete(context.Background())
	if err != nil {
		t.Fatalf("ошибка ConfirmSelectionDelete: %v", err)
	}
	if res.Count() != 2 {
		t.Errorf("ожидалось 2 удаления, получено %d", res.Count())
	}
	if env.m.Selection().State != selection.StateIdle {
		t.Error("после удаления выбор должен завершиться")
	}
	items := env.m.Items()
	if len(items) != 1 || items[0].ID != c.ID {
		t.Errorf("ожидался только %s, получено %v", c.ID, items)
	}
}

func TestConfirmSelectionDelete_FailedStaySelected(t *testing.T) {
	env := newTestEnv(t)
	a := env.add(t, "a", day(1, 10))
	b := env.add(t, "b", day(2, 10))
	env.blobs.failDelete[b.ID] = true

	_, _ = env.m.EnterSelection(a.ID)
	_, _ = env.m.ToggleSelection(b.ID)

	res, err := env.m.ConfirmSelectionDelete(context.Background())
	if err != nil {
		t.Fatalf("ошибка ConfirmSelectionDelete: %v", err)
	}
	if res.Count() != 1 {
		t.Errorf("ожидалось 1 удаление, получено %d", res.Count())
	}
	snap := env.m.Selection()
	if snap.State != selection.StateSelecting || len(snap.Selected) != 1 || snap.Selected[0] != b.ID {
		t.Errorf("неудачный id должен остаться выбранным, получено %+v", snap)
	}
}

func TestViewer_ClampsAtBoundaries(t *testing.T) {
	env := newTestEnv(t)
	oldest := env.add(t, "a", day(1, 10))
	middle := env.add(t, "b", day(2, 10))
	newest := env.add(t, "c", day(3, 10))

	if _, err := env.m.ViewerNext(); !errors.Is(err, ErrViewerClosed) {
		t.Errorf("ожидалась ErrViewerClosed, получено %v", err)
	}

	if _, err := env.m.OpenViewer(oldest.ID); err != nil {
		t.Fatalf("ошибка OpenViewer: %v", err)
	}
	item, err := env.m.ViewerNext()
	if err != nil {
		t.Fatalf("ошибка ViewerNext: %v", err)
	}
	if item.ID != oldest.ID {
		t.Errorf("next на последней позиции не должен менять элемент, получен %s", item.ID)
	}

	item, _ = env.m.ViewerPrev()
	if item.ID != middle.ID {
		t.Errorf("ожидался %s, получен %s", middle.ID, item.ID)
	}
	item, _ = env.m.ViewerPrev()
	if item.ID != newest.ID {
		t.Errorf("ожидался %s, получен %s", newest.ID, item.ID)
	}
	item, _ = env.m.ViewerPrev()
	if item.ID != newest.ID {
		t.Errorf("prev на позиции 0 не должен менять элемент, получен %s", item.ID)
	}

	env.m.CloseViewer()
	if _, open := env.m.ViewerCurrent(); open {
		t.Error("просмотр должен быть закрыт")
	}
}

func TestViewer_FollowsFilter(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "beach one", day(1, 10))
	mountain := env.add(t, "mountain", day(2, 10))
	beach := env.add(t, "beach two", day(3, 10))

	env.m.SetFilter(model.FilterCriteria{SearchText: "beach"})
	if _, err := env.m.OpenViewer(mountain.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("элемент вне фильтра не должен открываться, получено %v", err)
	}

	if _, err := env.m.OpenViewer(beach.ID); err != nil {
		t.Fatalf("ошибка OpenViewer: %v", err)
	}
	item, _ := env.m.ViewerNext()
	if item.Caption != "beach one" {
		t.Errorf("next должен пропустить отфильтрованные элементы, получен %q", item.Caption)
	}
}

func TestView_DateFilterAndGroups(t *testing.T) {
	env := newTestEnv(t)
	in := env.add(t, "in", time.Date(2024, 1, 2, 23, 0, 0, 0, time.UTC))
	env.add(t, "out", time.Date(2024, 1, 3, 0, 1, 0, 0, time.UTC))

	dr, err := model.ParseDateRange("2024-01-02", "2024-01-02", time.UTC)
	if err != nil {
		t.Fatalf("ошибка ParseDateRange: %v", err)
	}
	env.m.SetFilter(model.FilterCriteria{DateRange: dr})

	v := env.m.View(0, 0)
	if v.Total != 1 || v.Items[0].ID != in.ID {
		t.Fatalf("ожидался только %s, получено %+v", in.ID, v.Items)
	}
	if len(v.Groups) != 1 || v.Groups[0].Day != "2024-01-02" {
		t.Errorf("ожидалась группа 2024-01-02, получено %+v", v.Groups)
	}
	if v.Groups[0].Items[0].URL == "" {
		t.Error("элементы групп должны содержать ссылку")
	}

	if _, err := env.m.CycleLayout(context.Background()); err != nil {
		t.Fatalf("ошибка CycleLayout: %v", err)
	}
	if v := env.m.View(0, 0); len(v.Groups) != 0 {
		t.Errorf("группы строятся только для dated-grid, получено %d", len(v.Groups))
	}
}

func TestView_Pagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 1; i <= 5; i++ {
		env.add(t, "item", day(i, 10))
	}

	v := env.m.View(2, 2)
	if v.Total != 5 || len(v.Items) != 2 || !v.HasMore {
		t.Errorf("ожидалась страница 2 из 5 с продолжением, получено total=%d items=%d has_more=%v",
			v.Total, len(v.Items), v.HasMore)
	}
	if v.Items[0].Timestamp != day(3, 10) {
		t.Errorf("ожидался элемент от 3 января, получен %s", v.Items[0].Timestamp)
	}
}

func TestSettings_Persisted(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnvAt(t, dir, MediaConfig{Location: time.UTC})
	ctx := context.Background()

	if s := env.m.Settings(); s.Layout != model.LayoutDatedGrid || s.Theme != model.ThemeDark {
		t.Fatalf("неожиданные настройки по умолчанию: %+v", s)
	}
	if s, _ := env.m.CycleLayout(ctx); s.Layout != model.LayoutGrid {
		t.Errorf("ожидалась раскладка grid, получена %s", s.Layout)
	}
	if s, _ := env.m.ToggleTheme(ctx); s.Theme != model.ThemeLight {
		t.Errorf("ожидалась тема light, получена %s", s.Theme)
	}

	restarted := newTestEnvAt(t, dir, MediaConfig{Location: time.UTC})
	s := restarted.m.Settings()
	if s.Layout != model.LayoutGrid || s.Theme != model.ThemeLight {
		t.Errorf("настройки не сохранились: %+v", s)
	}
}

func TestSettings_FailureNotCommitted(t *testing.T) {
	env := newTestEnv(t)
	env.kv.failPut = true

	if _, err := env.m.CycleLayout(context.Background()); !errors.Is(err, errInjected) {
		t.Errorf("ожидалась ошибка хранилища, получено %v", err)
	}
	if env.m.Settings().Layout != model.LayoutDatedGrid {
		t.Error("раскладка не должна меняться без сохранения")
	}
}

func TestLoad_MissingBlobExcluded(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnvAt(t, dir, MediaConfig{Location: time.UTC})
	a := env.add(t, "a", day(1, 10))
	b := env.add(t, "b", day(2, 10))

	if err := os.Remove(filepath.Join(dir, "blobs", a.ID+".blob")); err != nil {
		t.Fatalf("ошибка удаления файла: %v", err)
	}

	report, err := env.m.Load(context.Background())
	if err != nil {
		t.Fatalf("ошибка Load: %v", err)
	}
	if report.Records != 2 || report.Resolved != 1 || report.MissingBlobs != 1 {
		t.Errorf("неожиданный отчёт: %+v", report)
	}
	items := env.m.Items()
	if len(items) != 1 || items[0].ID != b.ID {
		t.Errorf("ожидался только %s, получено %v", b.ID, items)
	}
	if env.handles.Outstanding() != 1 {
		t.Errorf("повторная загрузка должна освободить старые ссылки, выдано %d", env.handles.Outstanding())
	}
	if _, err := env.m.Resolve(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("элемент без содержимого не должен разрешаться, получено %v", err)
	}
}

func TestLoad_RejectsInvalidRecords(t *testing.T) {
	dir := t.TempDir()
	slots, err := filekv.New(filepath.Join(dir, "meta"))
	if err != nil {
		t.Fatalf("ошибка создания filekv: %v", err)
	}
	fs, _ := filestore.New(filepath.Join(dir, "blobs"))
	_, _ = fs.Put(context.Background(), "good", strings.NewReader("x"), "image/png")

	raw := `[
		{"id":"good","timestamp":"2024-01-02T10:00:00Z","caption":"ok","kind":"image"},
		{"id":"","timestamp":"2024-01-02T10:00:00Z","kind":"image"},
		{"id":"bad-kind","timestamp":"2024-01-02T10:00:00Z","kind":"audio"}
	]`
	if err := slots.Put(context.Background(), metastore.KeyRecords, []byte(raw)); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	env := newTestEnvAt(t, dir, MediaConfig{Location: time.UTC})
	items := env.m.Items()
	if len(items) != 1 || items[0].ID != "good" {
		t.Errorf("ожидалась только валидная запись, получено %v", items)
	}
}

func TestLoad_ImportsLegacy(t *testing.T) {
	dir := t.TempDir()
	slots, err := filekv.New(filepath.Join(dir, "meta"))
	if err != nil {
		t.Fatalf("ошибка создания filekv: %v", err)
	}
	data := base64.StdEncoding.EncodeToString([]byte("png bytes"))
	raw := `[
		{"id":"photo-1","date":"2023-05-01T12:00:00Z","caption":"Old","dataUrl":"data:image/png;base64,` + data + `"},
		{"id":"photo-2","date":"2023-05-02T12:00:00Z","caption":"Broken","dataUrl":"data:text/plain;base64,` + data + `"}
	]`
	if err := slots.Put(context.Background(), metastore.KeyLegacy, []byte(raw)); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	env := newTestEnvAt(t, dir, MediaConfig{Location: time.UTC})
	items := env.m.Items()
	if len(items) != 1 || items[0].ID != "photo-1" || items[0].Caption != "Old" {
		t.Fatalf("ожидался импортированный photo-1, получено %v", items)
	}

	obj, err := env.fs.Open(context.Background(), "photo-1")
	if err != nil {
		t.Fatalf("содержимое не импортировано: %v", err)
	}
	body, _ := io.ReadAll(obj.Body)
	obj.Body.Close()
	if string(body) != "png bytes" {
		t.Errorf("неожиданное содержимое %q", body)
	}

	if _, err := slots.Get(context.Background(), metastore.KeyLegacy); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("устаревший слот должен быть удалён, получено %v", err)
	}
}

func TestLoad_RecoversPendingAdd(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnvAt(t, dir, MediaConfig{Location: time.UTC})

	// Прерванное добавление: содержимое записано, метаданные нет
	if _, err := env.fs.Put(context.Background(), "orphan", strings.NewReader("x"), "image/png"); err != nil {
		t.Fatalf("ошибка Put: %v", err)
	}
	if _, err := env.journal.Begin(wal.OpMediaAdd, "orphan"); err != nil {
		t.Fatalf("ошибка WAL: %v", err)
	}

	report, err := env.m.Load(context.Background())
	if err != nil {
		t.Fatalf("ошибка Load: %v", err)
	}
	if report.Recovered != 1 {
		t.Errorf("ожидалась 1 восстановленная транзакция, получено %d", report.Recovered)
	}
	if _, err := env.fs.Stat(context.Background(), "orphan"); !errors.Is(err, blobstore.ErrNotFound) {
		t.Errorf("содержимое прерванного добавления должно быть удалено, получено %v", err)
	}
	pending := env.journal.Pending()
	if len(pending) != 0 {
		t.Errorf("pending транзакций быть не должно, получено %d", len(pending))
	}
}

func TestOpenByHandle(t *testing.T) {
	env := newTestEnv(t)
	item := env.add(t, "a", day(1, 10))
	token := strings.TrimPrefix(item.URL, "/blobs/")

	target, err := env.m.OpenByHandle(context.Background(), token)
	if err != nil {
		t.Fatalf("ошибка OpenByHandle: %v", err)
	}
	body, _ := io.ReadAll(target.Object.Body)
	target.Object.Body.Close()
	if string(body) != "content of a" {
		t.Errorf("неожиданное содержимое %q", body)
	}

	env.m.Delete(context.Background(), []string{item.ID})
	if _, err := env.m.OpenByHandle(context.Background(), token); !errors.Is(err, ErrNotFound) {
		t.Errorf("ссылка удалённого элемента должна быть недействительна, получено %v", err)
	}
	if _, err := env.m.OpenByHandle(context.Background(), "garbage"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

func TestLongPress_EntersSelection(t *testing.T) {
	env := newTestEnvAt(t, t.TempDir(), MediaConfig{Location: time.UTC, LongPressDuration: 10 * time.Millisecond})
	a := env.add(t, "a", day(1, 10))

	if err := env.m.PointerDown(a.ID); err != nil {
		t.Fatalf("ошибка PointerDown: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.m.Selection().State != selection.StateSelecting {
		if time.Now().After(deadline) {
			t.Fatal("long-press не начал выбор")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !env.m.PointerUp() {
		t.Error("PointerUp после срабатывания должен подавлять click")
	}
}

func TestLongPress_ReleaseCancels(t *testing.T) {
	env := newTestEnvAt(t, t.TempDir(), MediaConfig{Location: time.UTC, LongPressDuration: 50 * time.Millisecond})
	a := env.add(t, "a", day(1, 10))

	_ = env.m.PointerDown(a.ID)
	if env.m.PointerUp() {
		t.Error("отпускание до срабатывания не должно подавлять click")
	}
	time.Sleep(100 * time.Millisecond)
	if env.m.Selection().State != selection.StateIdle {
		t.Error("отменённое удержание не должно начинать выбор")
	}

	if err := env.m.PointerDown("unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

func TestClose_ReleasesAll(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "a", day(1, 10))
	env.add(t, "b", day(2, 10))

	env.m.Close()
	if env.handles.Outstanding() != 0 {
		t.Errorf("ожидалось 0 ссылок, получено %d", env.handles.Outstanding())
	}
}
