package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqkv/journal/codec"
	"github.com/cqkv/journal/model"
)

const testFileSize = 4096

type loadRecorder struct {
	events   []string
	prepared []model.PreparedTransactionInfo
	failed   map[int64][]model.RecordInfo
}

func newLoadRecorder() *loadRecorder {
	return &loadRecorder{failed: make(map[int64][]model.RecordInfo)}
}

func (r *loadRecorder) AddRecord(info model.RecordInfo) {
	r.events = append(r.events, fmt.Sprintf("add %d %s", info.ID, info.Data))
}

func (r *loadRecorder) UpdateRecord(info model.RecordInfo) {
	r.events = append(r.events, fmt.Sprintf("update %d %s", info.ID, info.Data))
}

func (r *loadRecorder) DeleteRecord(id int64) {
	r.events = append(r.events, fmt.Sprintf("delete %d", id))
}

func (r *loadRecorder) AddPreparedTransaction(info model.PreparedTransactionInfo) {
	r.prepared = append(r.prepared, info)
}

func (r *loadRecorder) FailedTransaction(txID int64, records []model.RecordInfo, recordsToDelete []model.RecordInfo) {
	r.failed[txID] = records
}

func openJournal(t *testing.T, dir string, opts ...Option) *Journal {
	t.Helper()
	base := []Option{WithFileSize(testFileSize), WithAutoReclaim(false), WithCompactMinFiles(0)}
	j, err := New(dir, append(base, opts...)...)
	require.Nil(t, err)
	require.Nil(t, j.Start())
	t.Cleanup(func() { _ = j.Stop() })
	return j
}

func loadJournal(t *testing.T, dir string, opts ...Option) (*Journal, *loadRecorder) {
	t.Helper()
	j := openJournal(t, dir, opts...)
	rec := newLoadRecorder()
	_, err := j.Load(rec)
	require.Nil(t, err)
	return j, rec
}

// netOf keeps the last version of every record.
func netOf(records []model.RecordInfo) map[int64]string {
	m := make(map[int64]string, len(records))
	for _, r := range records {
		m[r.ID] = string(r.Data)
	}
	return m
}

func reloadNet(t *testing.T, dir string) map[int64]string {
	t.Helper()
	j := openJournal(t, dir)
	records, _, _, err := j.LoadRecords(nil)
	require.Nil(t, err)
	require.Nil(t, j.Stop())
	return netOf(records)
}

func body(s string) codec.ByteArray {
	return codec.ByteArray(s)
}

func fileName(dir string, id int64) string {
	return filepath.Join(dir, fmt.Sprintf("journal-%d.jrn", id))
}

// copyDir copies the journal files of src into a fresh directory.
func copyDir(t *testing.T, src string) string {
	t.Helper()
	dst := t.TempDir()
	entries, err := os.ReadDir(src)
	require.Nil(t, err)
	for _, e := range entries {
		if e.IsDir() || e.Name() == "journal.lock" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		require.Nil(t, err)
		require.Nil(t, os.WriteFile(filepath.Join(dst, e.Name()), data, 0644))
	}
	return dst
}

func TestJournal_NotLoaded(t *testing.T) {
	j := openJournal(t, t.TempDir())

	err := j.AppendAddRecord(1, 0, body("a"), false)
	assert.ErrorIs(t, err, ErrNotLoaded)
	err = j.AppendCommitRecord(1, false)
	assert.ErrorIs(t, err, ErrNotLoaded)
	_, err = j.CheckReclaimStatus()
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.ErrorIs(t, j.Compact(), ErrNotLoaded)
	assert.False(t, j.IsLoaded())
	assert.True(t, j.IsStarted())
}

func TestJournal_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	j := openJournal(t, dir)

	assert.ErrorIs(t, j.Start(), ErrInvalidState)

	info, err := j.Load(newLoadRecorder())
	assert.Nil(t, err)
	assert.Equal(t, 0, info.NumberOfRecords)
	assert.Equal(t, int64(-1), info.MaxID)
	assert.True(t, j.IsLoaded())

	_, err = j.Load(newLoadRecorder())
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Nil(t, j.Stop())
	assert.False(t, j.IsStarted())
	assert.Nil(t, j.Stop())
}

func TestJournal_DirInUse(t *testing.T) {
	dir := t.TempDir()
	openJournal(t, dir)

	other, err := New(dir, WithFileSize(testFileSize))
	assert.Nil(t, err)
	assert.ErrorIs(t, other.Start(), ErrDirInUse)
}

func TestJournal_InvalidOptions(t *testing.T) {
	_, err := New(t.TempDir(), WithFileSize(100))
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = New(t.TempDir(), WithMinFiles(1))
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = New(t.TempDir(), WithCompactPercentage(1.5))
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = New(t.TempDir(), WithFileExtension("cmp"))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestJournal_AppendAndReload(t *testing.T) {
	dir := t.TempDir()
	j, _ := loadJournal(t, dir)

	assert.Nil(t, j.AppendAddRecord(1, 1, body("A"), true))
	assert.Nil(t, j.AppendAddRecord(2, 1, body("B"), true))
	assert.Nil(t, j.AppendUpdateRecord(1, 1, body("A2"), true))
	assert.Nil(t, j.AppendDeleteRecord(2, true))
	assert.Equal(t, 1, j.RecordCount())
	assert.Nil(t, j.Stop())

	j, rec := loadJournal(t, dir)
	assert.Equal(t, []string{"add 1 A", "add 2 B", "update 1 A2", "delete 2"}, rec.events)
	assert.Equal(t, 1, j.RecordCount())
	assert.Nil(t, j.Stop())

	j = openJournal(t, dir)
	records, prepared, info, err := j.LoadRecords(nil)
	assert.Nil(t, err)
	assert.Empty(t, prepared)
	assert.Equal(t, 1, info.NumberOfRecords)
	assert.Equal(t, int64(2), info.MaxID)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].ID)
	assert.Equal(t, "A", string(records[0].Data))
	assert.False(t, records[0].IsUpdate)
	assert.Equal(t, "A2", string(records[1].Data))
	assert.True(t, records[1].IsUpdate)
	assert.Equal(t, byte(1), records[1].UserRecordType)
}

func TestJournal_UnknownRecord(t *testing.T) {
	j, _ := loadJournal(t, t.TempDir())

	assert.ErrorIs(t, j.AppendUpdateRecord(9, 0, body("x"), false), ErrUnknownRecord)
	assert.ErrorIs(t, j.AppendDeleteRecord(9, false), ErrUnknownRecord)
	assert.ErrorIs(t, j.AppendUpdateRecordTx(1, 9, 0, body("x")), ErrUnknownRecord)
	assert.ErrorIs(t, j.AppendDeleteRecordTx(1, 9, nil), ErrUnknownRecord)
	assert.ErrorIs(t, j.AppendCommitRecord(1, false), ErrUnknownTransaction)
	assert.ErrorIs(t, j.AppendRollbackRecord(1, false), ErrUnknownTransaction)
	assert.Equal(t, 0, j.TransactionCount())
}

func TestJournal_RecordTooLarge(t *testing.T) {
	j, _ := loadJournal(t, t.TempDir())

	big := make([]byte, testFileSize)
	err := j.AppendAddRecord(1, 0, codec.ByteArray(big), false)
	assert.ErrorIs(t, err, ErrRecordTooLarge)
	assert.Equal(t, 0, j.RecordCount())

	// the largest record that fits an empty file
	fits := make([]byte, testFileSize-codec.SizeHeader-codec.SizeAddRecord)
	assert.Nil(t, j.AppendAddRecord(2, 0, codec.ByteArray(fits), true))
	assert.Equal(t, 1, j.RecordCount())
}

func TestJournal_Rollover(t *testing.T) {
	dir := t.TempDir()
	j, _ := loadJournal(t, dir)

	payload := make([]byte, 100)
	for i := int64(0); i < 100; i++ {
		copy(payload, fmt.Sprintf("record-%d", i))
		assert.Nil(t, j.AppendAddRecord(i, 0, codec.ByteArray(payload), false))
	}
	assert.Equal(t, 3, j.DataFilesCount())
	assert.Nil(t, j.Stop())

	j = openJournal(t, dir)
	records, _, info, err := j.LoadRecords(nil)
	assert.Nil(t, err)
	assert.Equal(t, 100, info.NumberOfRecords)
	assert.Equal(t, int64(99), info.MaxID)
	require.Len(t, records, 100)
	for i, r := range records {
		assert.Equal(t, int64(i), r.ID)
	}

	// appends continue in the last file
	assert.Nil(t, j.AppendAddRecord(100, 0, body("next"), true))
	assert.Equal(t, 3, j.DataFilesCount())
}

func TestJournal_TornWrite(t *testing.T) {
	base := t.TempDir()
	j, _ := loadJournal(t, base)
	for i := int64(0); i < 5; i++ {
		assert.Nil(t, j.AppendAddRecord(i, 0, body(fmt.Sprintf("rec-%d", i)), true))
	}
	current := j.CurrentFileID()
	assert.Nil(t, j.Stop())

	const recordSize = codec.SizeAddRecord + 5
	for cut := int64(0); cut <= codec.SizeHeader+5*recordSize; cut += 3 {
		dir := copyDir(t, base)
		require.Nil(t, os.Truncate(fileName(dir, current), cut))

		want := 0
		if cut >= codec.SizeHeader {
			want = int(cut-codec.SizeHeader) / recordSize
		}

		j := openJournal(t, dir)
		records, _, _, err := j.LoadRecords(nil)
		assert.Nil(t, err, "cut at %d", cut)
		assert.Len(t, records, want, "cut at %d", cut)
		for i, r := range records {
			assert.Equal(t, fmt.Sprintf("rec-%d", i), string(r.Data))
		}

		// the journal keeps working after the torn tail
		assert.Nil(t, j.AppendAddRecord(100, 0, body("after"), true), "cut at %d", cut)
		assert.Nil(t, j.Stop())
		net := reloadNet(t, dir)
		assert.Equal(t, "after", net[100], "cut at %d", cut)
		assert.Len(t, net, want+1, "cut at %d", cut)
	}
}

func TestJournal_UserVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	j, _ := loadJournal(t, dir, WithUserVersion(1))
	assert.Nil(t, j.AppendAddRecord(1, 0, body("a"), true))
	assert.Nil(t, j.Stop())

	j = openJournal(t, dir, WithUserVersion(2))
	_, err := j.Load(newLoadRecorder())
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

type testCompletion struct {
	linedUp atomic.Int32
	done    chan struct{}
	errs    chan string
}

func newTestCompletion() *testCompletion {
	return &testCompletion{done: make(chan struct{}, 1), errs: make(chan string, 1)}
}

func (c *testCompletion) StoreLineUp() {
	c.linedUp.Add(1)
}

func (c *testCompletion) Done() {
	c.done <- struct{}{}
}

func (c *testCompletion) OnError(code int, message string) {
	c.errs <- message
}

func TestJournal_AsyncCompletion(t *testing.T) {
	j, _ := loadJournal(t, t.TempDir())

	c := newTestCompletion()
	assert.Nil(t, j.AppendAddRecordAsync(1, 0, body("a"), true, c))
	select {
	case <-c.done:
	case msg := <-c.errs:
		t.Fatalf("write failed: %s", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("completion was not called")
	}
	assert.Equal(t, int32(1), c.linedUp.Load())
	assert.Equal(t, 1, j.RecordCount())
}

type testReplicator struct {
	mu    sync.Mutex
	files []int64
	sizes []int
}

func (r *testReplicator) Send(fileID int64, record []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, fileID)
	r.sizes = append(r.sizes, len(record))
}

func TestJournal_ReplicationSender(t *testing.T) {
	sender := &testReplicator{}
	j, _ := loadJournal(t, t.TempDir(), WithReplicationSender(sender))

	assert.Nil(t, j.AppendAddRecord(1, 0, body("abc"), false))
	assert.Nil(t, j.AppendUpdateRecord(1, 0, body("abcd"), false))
	assert.Nil(t, j.AppendDeleteRecord(1, false))

	current := j.CurrentFileID()
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, []int64{current, current, current}, sender.files)
	assert.Equal(t, []int{codec.SizeAddRecord + 3, codec.SizeAddRecord + 4, codec.SizeDeleteRecord}, sender.sizes)
}

func TestJournal_Debug(t *testing.T) {
	j, _ := loadJournal(t, t.TempDir())
	assert.Nil(t, j.AppendAddRecord(1, 0, body("a"), false))
	out := j.Debug()
	assert.Contains(t, out, "state=LOADED")
	assert.Contains(t, out, "records=1")
}
