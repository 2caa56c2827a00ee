package notebook

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbdeck/internal/types"
)

const sampleNotebook = `{
 "cells": [
  {
   "cell_type": "markdown",
   "id": "intro",
   "metadata": {},
   "source": ["# Title\n", "\n", "Some prose."]
  },
  {
   "cell_type": "code",
   "id": "c1",
   "execution_count": 2,
   "metadata": {},
   "outputs": [
    {
     "output_type": "stream",
     "name": "stdout",
     "text": ["hello\n"]
    },
    {
     "output_type": "execute_result",
     "execution_count": 2,
     "data": {"text/plain": "42"},
     "metadata": {}
    }
   ],
   "source": "print(\"hello\")\n42"
  },
  {
   "cell_type": "code",
   "id": "c2",
   "metadata": {},
   "outputs": [
    {
     "output_type": "error",
     "ename": "ValueError",
     "evalue": "boom",
     "traceback": ["Traceback...", "ValueError: boom"]
    }
   ],
   "source": []
  }
 ],
 "metadata": {"language_info": {"name": "python"}},
 "nbformat": 4,
 "nbformat_minor": 5
}`

func TestDecodeSampleNotebook(t *testing.T) {
	doc, err := Decode([]byte(sampleNotebook), "deck.ipynb")
	require.NoError(t, err)

	require.Equal(t, 3, doc.CellCount())

	md, ok := doc.CellAt(0)
	require.True(t, ok)
	assert.Equal(t, types.CellMarkdown, md.Type)
	assert.Equal(t, "# Title\n\nSome prose.", md.Source)

	code, ok := doc.CellAt(1)
	require.True(t, ok)
	assert.Equal(t, types.CellCode, code.Type)
	assert.Equal(t, "print(\"hello\")\n42", code.Source)
	assert.Equal(t, 2, code.ExecutionCount)
	require.Len(t, code.Outputs, 2)
	assert.Equal(t, types.OutputStream, code.Outputs[0].Type)
	assert.Equal(t, "hello\n", code.Outputs[0].Text)
	assert.Equal(t, types.OutputExecuteResult, code.Outputs[1].Type)
	assert.Equal(t, "42", code.Outputs[1].PlainText())

	failed, ok := doc.CellAt(2)
	require.True(t, ok)
	assert.Empty(t, failed.Source)
	require.Len(t, failed.Outputs, 1)
	assert.True(t, failed.Outputs[0].IsError())
	assert.Equal(t, "ValueError", failed.Outputs[0].ErrorName)
}

func TestDecodeAssignsMissingCellIDs(t *testing.T) {
	doc, err := Decode([]byte(`{"cells":[{"cell_type":"code","source":"x=1","metadata":{}}],"metadata":{},"nbformat":4,"nbformat_minor":5}`), "a.ipynb")
	require.NoError(t, err)
	cell, ok := doc.CellAt(0)
	require.True(t, ok)
	assert.NotEmpty(t, cell.ID)
}

func TestDecodeRejectsUnsupportedFormat(t *testing.T) {
	_, err := Decode([]byte(`{"cells":[],"metadata":{},"nbformat":3,"nbformat_minor":0}`), "old.ipynb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nbformat 3")
}

func TestEncodeRoundTrip(t *testing.T) {
	doc, err := Decode([]byte(sampleNotebook), "deck.ipynb")
	require.NoError(t, err)

	data, err := doc.Encode()
	require.NoError(t, err)

	again, err := Decode(data, "deck.ipynb")
	require.NoError(t, err)

	if diff := cmp.Diff(doc.Cells(), again.Cells()); diff != "" {
		t.Errorf("cells changed across round trip (-first +second):\n%s", diff)
	}
}

func TestEncodeWritesSourceAsLines(t *testing.T) {
	doc := NewDocument("deck.ipynb")
	require.NoError(t, doc.InsertCell(0, types.CellCode, "a = 1\nb = 2"))

	data, err := doc.Encode()
	require.NoError(t, err)

	var raw struct {
		Cells []struct {
			Source []string `json:"source"`
		} `json:"cells"`
		NBFormat int `json:"nbformat"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 4, raw.NBFormat)
	require.Len(t, raw.Cells, 1)
	assert.Equal(t, []string{"a = 1\n", "b = 2"}, raw.Cells[0].Source)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deck.ipynb")

	doc := NewDocument(path)
	require.NoError(t, doc.InsertCell(0, types.CellMarkdown, "# Deck"))
	require.NoError(t, doc.InsertCell(1, types.CellCode, "print(1)"))
	require.True(t, doc.Dirty())

	require.NoError(t, doc.Save())
	assert.False(t, doc.Dirty())

	loaded, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(doc.Cells(), loaded.Cells()); diff != "" {
		t.Errorf("cells changed across save/load (-saved +loaded):\n%s", diff)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.ipynb"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
