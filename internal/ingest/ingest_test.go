package ingest

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/entity"
	"github.com/finsight-labs/extractd/internal/queue"
	"github.com/finsight-labs/extractd/internal/repository"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngestPathAcceptsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "acme_invoice.pdf", "fake pdf bytes")

	store := repository.NewMemoryStore()
	ing := NewFSIngestor(store, nil)
	profileID := DefaultProfileID()

	res, err := ing.IngestPath(context.Background(), profileID, path)
	require.NoError(t, err)
	require.NotNil(t, res.Document)
	assert.False(t, res.Deduplicated)
	assert.Len(t, res.HashHex, 64)

	doc := res.Document
	assert.Equal(t, "acme_invoice.pdf", doc.Filename)
	assert.Equal(t, "pdf", doc.FileExt)
	assert.Equal(t, constants.DocTypeInvoice, doc.DocType)
	assert.Equal(t, int64(len("fake pdf bytes")), doc.SizeBytes)
	assert.Equal(t, constants.DocStatusReceived, doc.Status)

	wantSum := sha256.Sum256([]byte("fake pdf bytes"))
	assert.Equal(t, wantSum[:], doc.ContentHash)

	stored, err := store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, stored.ID)
}

func TestIngestPathDedupesSameContent(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "statement_jan.pdf", "same bytes")
	second := writeFile(t, dir, "statement_jan_copy.pdf", "same bytes")

	store := repository.NewMemoryStore()
	ing := NewFSIngestor(store, nil)
	profileID := DefaultProfileID()

	r1, err := ing.IngestPath(context.Background(), profileID, first)
	require.NoError(t, err)
	require.False(t, r1.Deduplicated)

	r2, err := ing.IngestPath(context.Background(), profileID, second)
	require.NoError(t, err)
	assert.True(t, r2.Deduplicated)
	assert.Equal(t, r1.Document.ID, r2.Document.ID)
	assert.Equal(t, r1.HashHex, r2.HashHex)
}

func TestIngestPathRejectsUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	docx := writeFile(t, dir, "notes.docx", "word doc")
	bare := writeFile(t, dir, "README", "no extension")

	store := repository.NewMemoryStore()
	ing := NewFSIngestor(store, nil)

	_, err := ing.IngestPath(context.Background(), DefaultProfileID(), docx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")

	_, err = ing.IngestPath(context.Background(), DefaultProfileID(), bare)
	require.Error(t, err)
}

func TestIngestDirectoryStats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a_invoice.pdf", "alpha")
	writeFile(t, dir, "b_copy.pdf", "alpha")
	writeFile(t, dir, ".hidden.pdf", "hidden")
	writeFile(t, dir, "notes.md", "not allowed")
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".private"), 0o755))
	writeFile(t, filepath.Join(dir, ".private"), "secret.pdf", "secret")
	require.NoError(t, os.Symlink(
		filepath.Join(dir, "missing_target.pdf"),
		filepath.Join(dir, "broken_link.pdf"),
	))

	store := repository.NewMemoryStore()
	ing := NewFSIngestor(store, nil)

	results, stats, err := ing.IngestDirectory(context.Background(), DefaultProfileID(), dir, true)
	require.NoError(t, err)

	assert.Equal(t, uint32(3), stats.Matched)
	assert.Equal(t, uint32(2), stats.Succeeded)
	assert.Equal(t, uint32(1), stats.Deduplicated)
	assert.Equal(t, uint32(1), stats.Failed)
	require.Len(t, results, 3)

	byName := map[string]Result{}
	for _, r := range results {
		byName[filepath.Base(r.SourcePath)] = r
	}
	assert.False(t, byName["a_invoice.pdf"].Deduplicated)
	assert.True(t, byName["b_copy.pdf"].Deduplicated)
	assert.Equal(t,
		byName["a_invoice.pdf"].Document.ID,
		byName["b_copy.pdf"].Document.ID)
	assert.NotEmpty(t, byName["broken_link.pdf"].Err)
}

func TestIngestDirectoryRequiresRoot(t *testing.T) {
	ing := NewFSIngestor(repository.NewMemoryStore(), nil)
	_, _, err := ing.IngestDirectory(context.Background(), DefaultProfileID(), "  ", false)
	require.Error(t, err)
}

func TestWatcherSeesNewFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _, err := StartWatcher(ctx, WatchConfig{
		Roots:    []string{dir},
		Debounce: 10 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	writeFile(t, dir, "drop_invoice.pdf", "payload")

	select {
	case got := <-events:
		assert.Equal(t, "drop_invoice.pdf", filepath.Base(got))
	case <-time.After(3 * time.Second):
		t.Fatal("no event for new file")
	}

	// New subdirectories join the watch set.
	sub := filepath.Join(dir, "incoming")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(250 * time.Millisecond)
	writeFile(t, sub, "nested_receipt.pdf", "payload")

	select {
	case got := <-events:
		assert.Equal(t, "nested_receipt.pdf", filepath.Base(got))
	case <-time.After(3 * time.Second):
		t.Fatal("no event for file in new subdirectory")
	}
}

func TestWatcherInitialScan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "existing_receipt.pdf", "payload")
	writeFile(t, dir, "ignored.tmp", "payload")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{dir},
		InitialScan: true,
	}, nil)
	require.NoError(t, err)

	select {
	case got := <-events:
		assert.Equal(t, "existing_receipt.pdf", filepath.Base(got))
	case <-time.After(3 * time.Second):
		t.Fatal("initial scan emitted nothing")
	}
}

type recordingProducer struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (p *recordingProducer) Enqueue(_ context.Context, task queue.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *recordingProducer) snapshot() []queue.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]queue.Task(nil), p.tasks...)
}

func TestHotfolderEnqueuesIngestedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "q2_invoice.pdf", "payload")

	store := repository.NewMemoryStore()
	producer := &recordingProducer{}
	hf := NewHotfolder(NewFSIngestor(store, nil), producer, DefaultProfileID(), WatchConfig{
		Roots:       []string{dir},
		InitialScan: true,
		Debounce:    10 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hf.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(producer.snapshot()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	task := producer.snapshot()[0]
	doc, err := store.GetDocument(context.Background(), task.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "q2_invoice.pdf", doc.Filename)
	assert.Equal(t, constants.DocStatusReceived, doc.Status)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("hotfolder did not stop on cancel")
	}
}

func TestHotfolderSkipsSettledDuplicate(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "done_receipt.pdf", "payload")

	store := repository.NewMemoryStore()
	ing := NewFSIngestor(store, nil)
	profileID := DefaultProfileID()

	first, err := ing.IngestPath(context.Background(), profileID, path)
	require.NoError(t, err)
	id := first.Document.ID
	require.NoError(t, store.TransitionStatus(context.Background(), id,
		constants.DocStatusReceived, constants.DocStatusExtracting))
	require.NoError(t, store.SaveResult(context.Background(), id,
		&entity.ExtractionResult{Markdown: "done"}, false))

	producer := &recordingProducer{}
	hf := NewHotfolder(ing, producer, profileID, WatchConfig{Roots: []string{dir}}, nil)

	hf.handle(context.Background(), path)
	assert.Empty(t, producer.snapshot())

	// A duplicate that never started extracting still gets queued.
	other := writeFile(t, dir, "fresh_receipt.pdf", "other payload")
	fresh, err := ing.IngestPath(context.Background(), profileID, other)
	require.NoError(t, err)

	hf.handle(context.Background(), other)
	tasks := producer.snapshot()
	require.Len(t, tasks, 1)
	assert.Equal(t, fresh.Document.ID, tasks[0].DocumentID)
}

func TestAllowedExt(t *testing.T) {
	assert.True(t, AllowedExt(".PDF"))
	assert.True(t, AllowedExt("zip"))
	assert.False(t, AllowedExt("exe"))
	assert.False(t, AllowedExt(""))
}
