package render

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"shop-notification-service/internal/domain"
	"shop-notification-service/internal/repository"

	"github.com/stretchr/testify/assert"
)

func newRenderer() *Renderer {
	return New("02.01.2006", time.FixedZone("CET", 3600))
}

func TestRenderOrderConfirmationSubject(t *testing.T) {
	r := newRenderer()
	got := r.Render("Bestellbestätigung - Ihre Bestellung {{order_number}}", map[string]any{
		"order_number":  "BK-2024-001",
		"customer_name": "Max Mustermann",
	})
	assert.Equal(t, "Bestellbestätigung - Ihre Bestellung BK-2024-001", got)
}

func TestRenderBothSyntaxes(t *testing.T) {
	r := newRenderer()
	got := r.Render("Hallo {{customer_name}}, {customer_name}!", map[string]any{"customer_name": "Max Mustermann"})
	assert.Equal(t, "Hallo Max Mustermann, Max Mustermann!", got)
	assert.NotContains(t, got, "{")
}

func TestRenderStripsUnknownPlaceholders(t *testing.T) {
	r := newRenderer()
	got := r.Render("A{{unknown_key}}B{{ spaced }}C", map[string]any{"other": "x"})
	assert.Equal(t, "ABC", got)
}

func TestRenderWithNoVariables(t *testing.T) {
	r := newRenderer()
	assert.Equal(t, "Hi ", r.Render("Hi {{name}}", nil))
}

func TestRenderDoesNotExpandSubstitutedValues(t *testing.T) {
	r := newRenderer()
	got := r.Render("{{a}}", map[string]any{"a": "{b}", "b": "nope"})
	assert.Equal(t, "{b}", got)
}

func TestFormat(t *testing.T) {
	r := newRenderer()
	assert.Equal(t, "49.90", r.Format(49.9))
	assert.Equal(t, "10.00", r.Format(Money(10)))
	assert.Equal(t, "3", r.Format(3))
	assert.Equal(t, "", r.Format(nil))
	assert.Equal(t, "", r.Format(time.Time{}))
	// 23:30 UTC is already the next day in CET.
	assert.Equal(t, "02.03.2024", r.Format(time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)))
}

func TestRenderHTMLEscapesValuesExceptRawKeys(t *testing.T) {
	r := newRenderer()
	got := r.RenderHTML("<p>{{customer_name}}</p>{{order_items_html}}", map[string]any{
		"customer_name":    "<script>",
		"order_items_html": "<ul><li>Buch</li></ul>",
	}, nil)
	assert.Equal(t, "<p>&lt;script&gt;</p><ul><li>Buch</li></ul>", got)
}

func TestRenderHTMLInsertsSignatureBeforeLastBodyTag(t *testing.T) {
	r := newRenderer()
	sig := &Signature{Enabled: true, HTML: "<footer>{{shop_name}}</footer>"}
	got := r.RenderHTML("<html><BODY><p>Hi</p></BODY></html>", map[string]any{"shop_name": "Buchladen"}, sig)
	assert.Equal(t, "<html><BODY><p>Hi</p><footer>Buchladen</footer></BODY></html>", got)
}

func TestRenderHTMLAppendsSignatureWithoutBodyTag(t *testing.T) {
	r := newRenderer()
	sig := &Signature{Enabled: true, HTML: "<hr>Shop"}
	got := r.RenderHTML("<p>Hi</p>", nil, sig)
	assert.Equal(t, "<p>Hi</p><hr>Shop", got)
}

func TestRenderTextAppendsSignatureBlock(t *testing.T) {
	r := newRenderer()
	sig := &Signature{Enabled: true, Text: "-- \nShop"}
	got := r.RenderText("Hallo\n", nil, sig)
	assert.Equal(t, "Hallo\n\n-- \nShop", got)
}

func TestDisabledSignatureIsIgnored(t *testing.T) {
	r := newRenderer()
	sig := &Signature{Enabled: false, Text: "footer"}
	assert.Equal(t, "Hallo", r.RenderText("Hallo", nil, sig))
}

func TestEmptyContentStaysEmpty(t *testing.T) {
	r := newRenderer()
	sig := &Signature{Enabled: true, HTML: "x", Text: "y"}
	assert.Empty(t, r.RenderHTML("", nil, sig))
	assert.Empty(t, r.RenderText("", nil, sig))
}

type stubGetter struct {
	rec domain.SettingRecord
	err error
}

func (s stubGetter) Get(context.Context, domain.SettingType, string) (domain.SettingRecord, error) {
	return s.rec, s.err
}

func TestLoadSignature(t *testing.T) {
	ctx := context.Background()

	sig := LoadSignature(ctx, stubGetter{rec: domain.SettingRecord{Value: `{"enabled":true,"html":"<b>x</b>","text":"x"}`}})
	if assert.NotNil(t, sig) {
		assert.Equal(t, "<b>x</b>", sig.HTML)
	}

	assert.Nil(t, LoadSignature(ctx, stubGetter{rec: domain.SettingRecord{Value: `{"enabled":false,"text":"x"}`}}))
	assert.Nil(t, LoadSignature(ctx, stubGetter{err: repository.ErrNotFound}))
	assert.Nil(t, LoadSignature(ctx, stubGetter{err: errors.New("db down")}))
	assert.Nil(t, LoadSignature(ctx, stubGetter{rec: domain.SettingRecord{Value: `not json`}}))
}

func TestStringsSnapshot(t *testing.T) {
	r := newRenderer()
	got := r.Strings(map[string]any{"total_amount": Money(12.5), "points": 40})
	assert.Equal(t, map[string]string{"total_amount": "12.50", "points": "40"}, got)
	assert.False(t, strings.Contains(got["total_amount"], ","))
}
