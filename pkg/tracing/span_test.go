package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "query", "req-1")
	childCtx, normalize := StartChildSpan(ctx, "normalize")
	normalize.SetAttr("terms", 2)
	normalize.End()
	_, grandchild := StartChildSpan(childCtx, "inner")
	grandchild.End()
	root.End()

	require.Len(t, root.Children, 1)
	assert.Equal(t, "req-1", normalize.TraceID)
	assert.Same(t, grandchild, normalize.Children[0])
	assert.Same(t, normalize, SpanFromContext(childCtx))
	assert.Equal(t, 2, normalize.Attrs["terms"])
}

func TestChildWithoutParent(t *testing.T) {
	ctx, span := StartChildSpan(context.Background(), "orphan")
	assert.Same(t, span, SpanFromContext(ctx))
	assert.Empty(t, span.TraceID)
}

func TestEndIsIdempotent(t *testing.T) {
	_, span := StartSpan(context.Background(), "x", "")
	span.End()
	first := span.Duration
	span.End()
	assert.Equal(t, first, span.Duration)
}

func TestLogOnlyAtDebug(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "query", "req-1")
	_, child := StartChildSpan(ctx, "execute")
	child.End()
	root.End()

	var buf bytes.Buffer
	root.Log(ctx, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	assert.Empty(t, buf.String())

	root.Log(ctx, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "span=query")
	assert.Contains(t, lines[1], "span=execute")
	assert.Contains(t, lines[1], "depth=1")
}
