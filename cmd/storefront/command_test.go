package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/pharmacy-storefront/internal/apperror"
	"github.com/iliyamo/pharmacy-storefront/internal/cartstore"
)

func TestRegistry_HelpListsCommandsInOrder(t *testing.T) {
	r := NewCommandRegistry(func() (*app, error) { return nil, errors.New("unused") })
	registerCommands(r)

	var buf bytes.Buffer
	r.PrintHelp(&buf)
	out := buf.String()
	assert.Less(t, strings.Index(out, "login"), strings.Index(out, "checkout"))
	assert.Contains(t, out, "add-address")

	require.NoError(t, r.Execute(context.Background(), []string{"help"}))
	require.NoError(t, r.Execute(context.Background(), []string{"help", "add"}))
}

func TestRegistry_ExecuteErrors(t *testing.T) {
	ran := false
	r := NewCommandRegistry(func() (*app, error) { return nil, errors.New("bad config") })
	r.Register(&Command{Name: "noop", Run: func(context.Context, *app, []string) error {
		ran = true
		return nil
	}})

	assert.Error(t, r.Execute(context.Background(), nil))
	assert.ErrorContains(t, r.Execute(context.Background(), []string{"nope"}), "unknown command: nope")
	assert.ErrorContains(t, r.Execute(context.Background(), []string{"noop"}), "bad config")
	assert.False(t, ran, "command must not run without an app")
}

func TestCommand_PrintUsage(t *testing.T) {
	var buf bytes.Buffer
	(&Command{Description: "Add a product", Usage: "storefront add <id>", Examples: []string{"storefront add 12"}}).PrintUsage(&buf)
	assert.Equal(t, "Add a product\n\nUSAGE:\n    storefront add <id>\n\nEXAMPLES:\n    storefront add 12\n\n", buf.String())
}

func TestTableWriter(t *testing.T) {
	var buf bytes.Buffer
	tw := NewTableWriter(&buf, "ID", "NAME")
	tw.AddRow("7", "Panadol Extra")
	tw.Print()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "│ ID │ NAME          │", lines[1])
	assert.Equal(t, "│ 7  │ Panadol Extra │", lines[3])
}

func TestDescribe(t *testing.T) {
	err := &cartstore.MutationError{
		ProductID:   3,
		ProductName: "Panadol",
		Err:         apperror.New(apperror.ErrServerRejected, "Only 2 items in stock"),
	}
	assert.Equal(t, "Panadol: Only 2 items in stock", describe(err))

	verr := &apperror.Error{Kind: apperror.ErrValidation, Message: "Invalid input.", Fields: map[string][]string{"email": {"Enter a valid email address."}}}
	assert.Equal(t, "Invalid input.\n  email: Enter a valid email address.", describe(verr))
}
