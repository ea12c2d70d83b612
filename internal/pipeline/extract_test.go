package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmatrack/internal"
	"pharmatrack/internal/config"
)

type fakeCompleter struct {
	answer  string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, system, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.answer, f.err
}

var deliveryNote = strings.Repeat("DOLIPRANE 1000MG 3400930000001 LOT A12 EXP 12/2026\n", 3)

func TestExtractDecodesFencedAnswer(t *testing.T) {
	c := &fakeCompleter{answer: "```json\n" + `{"products":[
		{"code13":"3400930000001","name":"DOLIPRANE 1000MG","quantity":12,"expirationDate":"12/2026","lot":"A12","rotation_mensuelle":null,"prix_sans_remise":"2,18","remise":2.5,"prix_remisee":""},
		{"code13":null,"name":null,"quantity":"1 boite","expirationDate":null,"lot":null}
	]}` + "\n```"}
	e := NewExtractor(c, config.Config{}, nil)

	got, err := e.Extract(context.Background(), deliveryNote)
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "3400930000001", *first.Code13)
	assert.Equal(t, "DOLIPRANE 1000MG", first.Name)
	assert.Equal(t, "12", *first.Quantity)
	assert.Equal(t, "12/2026", *first.ExpirationDate)
	assert.Equal(t, "A12", *first.Lot)
	assert.Nil(t, first.Rotation)
	assert.Equal(t, "2,18", *first.PrixSansRemise)
	assert.Equal(t, "2.5", *first.Remise)
	assert.Nil(t, first.PrixRemisee)

	second := got[1]
	assert.Nil(t, second.Code13)
	assert.Equal(t, internal.UnknownName, second.Name)
	assert.Equal(t, "1 boite", *second.Quantity)

	require.Len(t, c.prompts, 1)
	assert.Contains(t, c.prompts[0], "Taux de remise")
	assert.Contains(t, c.prompts[0], "Discount rate in % /")
	assert.Contains(t, c.prompts[0], "LOT A12")
}

func TestExtractSkipsShortText(t *testing.T) {
	c := &fakeCompleter{answer: `{"products":[]}`}
	e := NewExtractor(c, config.Config{}, nil)

	got, err := e.Extract(context.Background(), "trop court")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, c.prompts)
}

func TestExtractTruncatesLongText(t *testing.T) {
	c := &fakeCompleter{answer: `{"products":[]}`}
	e := NewExtractor(c, config.Config{ExtractionMinChars: 5, ExtractionMaxChars: 20}, nil)

	_, err := e.Extract(context.Background(), strings.Repeat("a", 19)+"bZZZZZZZZ")
	require.NoError(t, err)
	require.Len(t, c.prompts, 1)
	assert.Contains(t, c.prompts[0], strings.Repeat("a", 19)+"b")
	assert.NotContains(t, c.prompts[0], "Z")
}

func TestExtractRejectsMalformedAnswer(t *testing.T) {
	for _, answer := range []string{"Désolé, je ne peux pas.", `["DOLIPRANE"]`, "```json\n{\"products\": [\n```"} {
		e := NewExtractor(&fakeCompleter{answer: answer}, config.Config{}, nil)
		_, err := e.Extract(context.Background(), deliveryNote)
		assert.ErrorIs(t, err, ErrExtraction, answer)
	}
}

func TestExtractEmptyProductsIsNotAnError(t *testing.T) {
	for _, answer := range []string{`{"products":[]}`, `{"products":null}`, `{"items":[]}`} {
		e := NewExtractor(&fakeCompleter{answer: answer}, config.Config{}, nil)
		got, err := e.Extract(context.Background(), deliveryNote)
		require.NoError(t, err, answer)
		assert.Empty(t, got, answer)
	}
}

func TestExtractPropagatesCompleterFailure(t *testing.T) {
	boom := errors.New("overloaded")
	e := NewExtractor(&fakeCompleter{err: boom}, config.Config{}, nil)
	_, err := e.Extract(context.Background(), deliveryNote)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrExtraction)
}
