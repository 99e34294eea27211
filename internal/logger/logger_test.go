package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetFormat("text")
		SetOutput(os.Stdout)
		SetLevel("info")
	})

	SetLevel("warn")
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden 1")
	assert.Contains(t, buf.String(), "shown 2")

	buf.Reset()
	SetFormat("json")
	Errorf("boom")
	assert.Contains(t, buf.String(), `"msg":"boom"`)

	buf.Reset()
	SetLevel("debug")
	InfoBlock("a\n\nb")
	assert.Contains(t, buf.String(), `"msg":"a"`)
	assert.Contains(t, buf.String(), `"msg":"b"`)
}
