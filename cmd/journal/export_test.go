package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqkv/journal"
	"github.com/cqkv/journal/codec"
	"github.com/cqkv/journal/model"
)

var exported = []model.RecordInfo{
	{ID: 1, UserRecordType: 2, Data: []byte("ab")},
	{ID: 1, UserRecordType: 2, Data: []byte{0xff}, IsUpdate: true},
}

const exportedText = "1\t2\tfalse\t6162\n1\t2\ttrue\tff\n"

func TestWriteRecords(t *testing.T) {
	var buf bytes.Buffer
	err := writeRecords(&buf, exported, "text", false)
	assert.Nil(t, err)
	assert.Equal(t, exportedText, buf.String())
}

func TestWriteRecordsCompressed(t *testing.T) {
	var buf bytes.Buffer
	err := writeRecords(&buf, exported, "text", true)
	assert.Nil(t, err)

	data, err := io.ReadAll(snappy.NewReader(&buf))
	assert.Nil(t, err)
	assert.Equal(t, exportedText, string(data))
}

func TestWriteRecordsCSV(t *testing.T) {
	var buf bytes.Buffer
	err := writeRecords(&buf, exported, "csv", false)
	assert.Nil(t, err)
	assert.Equal(t, "id,type,update,data\n1,2,false,6162\n1,2,true,ff\n", buf.String())
}

type nopLoader struct{}

func (nopLoader) AddRecord(model.RecordInfo)                                      {}
func (nopLoader) UpdateRecord(model.RecordInfo)                                   {}
func (nopLoader) DeleteRecord(int64)                                              {}
func (nopLoader) AddPreparedTransaction(model.PreparedTransactionInfo)            {}
func (nopLoader) FailedTransaction(int64, []model.RecordInfo, []model.RecordInfo) {}

func TestPrint(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.New(dir, journal.WithFileSize(4096), journal.WithAutoReclaim(false))
	require.Nil(t, err)
	require.Nil(t, j.Start())
	_, err = j.Load(nopLoader{})
	require.Nil(t, err)
	assert.Nil(t, j.AppendAddRecord(1, 0, codec.ByteArray("a"), false))
	assert.Nil(t, j.AppendAddRecordTx(2, 3, 0, codec.ByteArray("b")))
	assert.Nil(t, j.AppendCommitRecord(2, true))
	require.Nil(t, j.Stop())

	flagDir = dir
	defer func() { flagDir = "" }()

	var out bytes.Buffer
	printCmd.SetOut(&out)
	assert.Nil(t, executePrint(printCmd, nil))

	text := out.String()
	assert.Contains(t, text, "add id=1 type=0 len=1 compacted=0")
	assert.Contains(t, text, "add tx=2 id=3")
	assert.Contains(t, text, "commit tx=2")
	assert.Equal(t, 1, strings.Count(text, "3 records"))
}
