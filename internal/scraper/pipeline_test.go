package scraper

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/places-scraper/internal/browser"
	"github.com/maltedev/places-scraper/internal/browser/browsertest"
	"github.com/maltedev/places-scraper/internal/geocode"
	"github.com/maltedev/places-scraper/internal/models"
)

const (
	imageSelector = ".U39Pmb[style]"
	addressSel    = "button[data-item-id='address'] .AeaXub .rogA2c .Io6YTe"
	phoneSel      = "button[data-tooltip='Copy phone number'] .AeaXub .rogA2c .Io6YTe"
)

type mockGeocoder struct {
	mock.Mock
}

func (m *mockGeocoder) Resolve(ctx context.Context, address string) (geocode.Location, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(geocode.Location), args.Error(1)
}

type fakeScroller struct {
	onScroll func(page browser.Page)
	calls    int
}

func (s *fakeScroller) Scroll(ctx context.Context, page browser.Page, container string) (int, error) {
	s.calls++
	if s.onScroll != nil {
		s.onScroll(page)
	}
	return 1, nil
}

func style(url string) string {
	return `background-image: url("` + url + `");`
}

func detailPage() *browsertest.Page {
	p := browsertest.NewPage()
	p.Texts["h1.DUwDvf"] = "  Acme  "
	p.Texts[`.F7nice span[aria-hidden="true"]`] = "4.6"
	p.Texts[".F7nice span[aria-label]:nth-child(1)"] = "(1,234)"
	p.Texts[addressSel] = "1 Piccadilly, Manchester M1 1AE, UK"
	p.Texts["a[data-item-id='authority'] .AeaXub .rogA2c .Io6YTe"] = "acme.example"
	p.Texts[phoneSel] = "0161 000 0000"
	p.Texts["button.DkEaL"] = "Bakery"
	p.Present["button.aoRNLd"] = true
	p.SetAttrs(imageSelector, "style", style(Placeholder), style("https://x/img=w100-h100-k-no"))
	return p
}

func testPipeline(opts ...Option) *Pipeline {
	return New(DefaultOptions().WithoutDelays(), opts...)
}

func TestExtractAllFields(t *testing.T) {
	page := detailPage()
	task := models.NewTask("https://maps.example/place/1", []string{
		models.FieldTitle, models.FieldAvgRating, models.FieldRatingCount, models.FieldAddress,
		models.FieldWebsite, models.FieldPhone, models.FieldCategory, models.FieldImages,
	})

	record, err := testPipeline().Extract(context.Background(), page, task)
	require.NoError(t, err)

	assert.Equal(t, models.Record{
		models.FieldTitle:       "Acme",
		models.FieldAvgRating:   "4.6",
		models.FieldRatingCount: "1234",
		models.FieldAddress:     "1 Piccadilly, Manchester M1 1AE, UK",
		models.FieldWebsite:     "acme.example",
		models.FieldPhone:       "0161 000 0000",
		models.FieldCategory:    "Bakery",
		models.FieldImages:      "https://x/img=s4196-v1",
	}, record)
	assert.Equal(t, "https://maps.example/place/1", page.URL())
	assert.Equal(t, []string{"button.aoRNLd"}, page.Clicks())
}

func TestExtractKeySetMatchesRequest(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		page   func() *browsertest.Page
	}{
		{name: "subset", fields: []string{models.FieldTitle, models.FieldPhone}, page: detailPage},
		{name: "unknown field", fields: []string{models.FieldTitle, "opening_hours"}, page: detailPage},
		{name: "missing elements", fields: models.DefaultFields, page: func() *browsertest.Page {
			p := browsertest.NewPage()
			p.Present["h1.DUwDvf"] = true
			return p
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := models.NewTask("https://maps.example/place/1", tt.fields)
			record, err := testPipeline().Extract(context.Background(), tt.page(), task)
			require.NoError(t, err)

			assert.Len(t, record, len(task.Fields))
			for _, f := range task.Fields {
				assert.Contains(t, record, f)
			}
		})
	}
}

func TestExtractFieldFailureIsIsolated(t *testing.T) {
	page := detailPage()
	delete(page.Texts, phoneSel)

	task := models.NewTask("https://maps.example/place/1", []string{models.FieldTitle, models.FieldPhone, models.FieldCategory})
	record, err := testPipeline().Extract(context.Background(), page, task)
	require.NoError(t, err)

	assert.Equal(t, "Acme", record[models.FieldTitle])
	assert.Equal(t, "", record[models.FieldPhone])
	assert.Equal(t, "Bakery", record[models.FieldCategory])
}

func TestExtractNavigationFailure(t *testing.T) {
	page := detailPage()
	page.GotoErr = func(url string, call int) error { return errors.New("net::ERR_CONNECTION_RESET") }

	task := models.NewTask("https://maps.example/place/1", []string{models.FieldTitle, models.FieldImages})
	record, err := testPipeline().Extract(context.Background(), page, task)

	assert.ErrorIs(t, err, ErrNavigation)
	assert.Equal(t, models.NewRecord(task.Fields), record)
	assert.Equal(t, 3, page.Gotos())
}

func TestExtractNavigationRecovers(t *testing.T) {
	page := detailPage()
	page.GotoErr = func(url string, call int) error {
		if call < 3 {
			return errors.New("timeout")
		}
		return nil
	}

	p := testPipeline()
	record, err := p.Extract(context.Background(), page, models.NewTask("https://maps.example/place/1", []string{models.FieldTitle}))
	require.NoError(t, err)
	assert.Equal(t, "Acme", record[models.FieldTitle])
	assert.Equal(t, 3, page.Gotos())
	assert.Equal(t, 1, p.NavigationStats().Success)
}

func TestExtractReadinessTimeout(t *testing.T) {
	page := browsertest.NewPage()

	task := models.NewTask("https://maps.example/place/1", []string{models.FieldTitle})
	record, err := testPipeline().Extract(context.Background(), page, task)

	assert.ErrorIs(t, err, ErrReadinessTimeout)
	assert.Equal(t, models.Record{models.FieldTitle: ""}, record)
}

func TestExtractLocation(t *testing.T) {
	address := "1 Piccadilly, Manchester M1 1AE, UK"

	t.Run("resolved", func(t *testing.T) {
		g := &mockGeocoder{}
		g.On("Resolve", mock.Anything, address).Return(geocode.Location{City: "Manchester", Area: "Manchester Central"}, nil).Once()

		task := models.NewTask("u", []string{models.FieldAddress, models.FieldCity, models.FieldArea})
		record, err := testPipeline(WithGeocoder(g)).Extract(context.Background(), detailPage(), task)
		require.NoError(t, err)

		assert.Equal(t, address, record[models.FieldAddress])
		assert.Equal(t, "Manchester", record[models.FieldCity])
		assert.Equal(t, "Manchester Central", record[models.FieldArea])
		g.AssertExpectations(t)
	})

	t.Run("address not requested", func(t *testing.T) {
		g := &mockGeocoder{}
		g.On("Resolve", mock.Anything, address).Return(geocode.Location{City: "Manchester", Area: "Manchester Central"}, nil).Once()

		task := models.NewTask("u", []string{models.FieldCity})
		record, err := testPipeline(WithGeocoder(g)).Extract(context.Background(), detailPage(), task)
		require.NoError(t, err)

		assert.Equal(t, models.Record{models.FieldCity: "Manchester"}, record)
		g.AssertExpectations(t)
	})

	t.Run("lookup fails", func(t *testing.T) {
		g := &mockGeocoder{}
		g.On("Resolve", mock.Anything, address).Return(geocode.Location{}, errors.New("503")).Once()

		task := models.NewTask("u", []string{models.FieldAddress, models.FieldCity, models.FieldArea})
		record, err := testPipeline(WithGeocoder(g)).Extract(context.Background(), detailPage(), task)
		require.NoError(t, err)

		assert.Equal(t, address, record[models.FieldAddress])
		assert.Equal(t, "", record[models.FieldCity])
		assert.Equal(t, "", record[models.FieldArea])
	})

	t.Run("no address", func(t *testing.T) {
		g := &mockGeocoder{}
		page := detailPage()
		delete(page.Texts, addressSel)

		task := models.NewTask("u", []string{models.FieldAddress, models.FieldCity})
		record, err := testPipeline(WithGeocoder(g)).Extract(context.Background(), page, task)
		require.NoError(t, err)

		assert.Equal(t, models.Record{models.FieldAddress: "", models.FieldCity: ""}, record)
		g.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
	})
}

func TestImagesFallbackTrigger(t *testing.T) {
	page := detailPage()
	page.Present["button.aoRNLd"] = false
	page.Present["div.RZ66Rb.FgCUCc img"] = true

	images, err := testPipeline().Images(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "https://x/img=s4196-v1", images)
	assert.Equal(t, []string{"div.RZ66Rb.FgCUCc img"}, page.Clicks())
}

func TestImagesNoTrigger(t *testing.T) {
	page := detailPage()
	page.Present["button.aoRNLd"] = false

	images, err := testPipeline().Images(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "https://x/img=s4196-v1", images)
	assert.Empty(t, page.Clicks())
}

func TestImagesOnlyPlaceholders(t *testing.T) {
	page := detailPage()
	page.SetAttrs(imageSelector, "style", style(Placeholder), style(Placeholder))

	images, err := testPipeline().Images(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "", images)
	assert.Equal(t, 0, page.Reloads())
}

func TestImagesRetryAfterReload(t *testing.T) {
	page := detailPage()
	page.SetAttrs(imageSelector, "style")
	page.OnReload = func(p *browsertest.Page) {
		p.SetAttrs(imageSelector, "style", style("https://x/a=w400-h300-k-no"))
	}

	images, err := testPipeline().Images(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "https://x/a=s4196-v1", images)
	assert.Equal(t, 1, page.Reloads())
}

func TestImagesExhausted(t *testing.T) {
	page := detailPage()
	page.SetAttrs(imageSelector, "style")

	task := models.NewTask("u", []string{models.FieldTitle, models.FieldImages})
	record, err := testPipeline().Extract(context.Background(), page, task)
	require.NoError(t, err)

	assert.Equal(t, "Acme", record[models.FieldTitle])
	assert.Equal(t, "", record[models.FieldImages])
	assert.Equal(t, 2, page.Reloads())

	_, err = testPipeline().Images(context.Background(), page)
	assert.ErrorIs(t, err, ErrImagesExhausted)
}

func TestImagesReloadFailureStopsRetries(t *testing.T) {
	page := detailPage()
	page.SetAttrs(imageSelector, "style")
	page.ReloadErr = errors.New("reload timeout")

	task := models.NewTask("u", []string{models.FieldTitle, models.FieldImages})
	record, err := testPipeline().Extract(context.Background(), page, task)
	require.NoError(t, err)

	assert.Equal(t, "Acme", record[models.FieldTitle])
	assert.Equal(t, "", record[models.FieldImages])
	assert.Equal(t, 1, page.Reloads())
}

func TestImagesMultiMode(t *testing.T) {
	opts := DefaultOptions().WithoutDelays()
	opts.Images.Mode = ImagesMulti

	page := detailPage()
	scroller := &fakeScroller{onScroll: func(browser.Page) {
		page.SetAttrs(imageSelector, "style",
			style("https://x/1=w100-h100-k-no"),
			style(Placeholder),
			style("https://x/2=w80-h60-k-no"),
			"color: red",
		)
	}}

	images, err := New(opts, WithScroller(scroller)).Images(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "https://x/1=s4196-v1,https://x/2=s4196-v1", images)
	assert.Equal(t, 1, scroller.calls)
}

func TestImagesMultiModeRechecksPlaceholders(t *testing.T) {
	opts := DefaultOptions().WithoutDelays()
	opts.Images.Mode = ImagesMulti
	opts.Images.EmptyRecheck = 5 * time.Second

	page := detailPage()
	page.SetAttrs(imageSelector, "style", style(Placeholder))

	p := New(opts)
	var waits []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		if d == 5*time.Second {
			page.SetAttrs(imageSelector, "style", style(Placeholder), style("https://x/late=w10-h10-k-no"))
		}
		return nil
	}

	images, err := p.Images(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "https://x/late=s4196-v1", images)
	assert.Contains(t, waits, 5*time.Second)
}

func TestOutputNeverContainsPlaceholder(t *testing.T) {
	for _, mode := range []ImageMode{ImagesSingle, ImagesMulti} {
		opts := DefaultOptions().WithoutDelays()
		opts.Images.Mode = mode

		page := detailPage()
		page.SetAttrs(imageSelector, "style", style(Placeholder), style(" "+Placeholder+" "), style(Placeholder))

		record, err := New(opts).Extract(context.Background(), page, models.NewTask("u", []string{models.FieldImages}))
		require.NoError(t, err)
		assert.False(t, strings.Contains(record[models.FieldImages], Placeholder), "mode %d", mode)
	}
}

func TestBackgroundURL(t *testing.T) {
	tests := []struct {
		style string
		want  string
	}{
		{style: `background-image: url("https://x/a.jpg");`, want: "https://x/a.jpg"},
		{style: `background-image: url(https://x/b.jpg)`, want: "https://x/b.jpg"},
		{style: `background-image: url("//:0")`, want: "//:0"},
		{style: `width: 10px`, want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BackgroundURL(tt.style), tt.style)
	}
}

func TestHighRes(t *testing.T) {
	assert.Equal(t, "https://x/p=s4196-v1", HighRes("https://x/p=w408-h306-k-no"))
	assert.Equal(t, "https://x/p=s4196-v1?a=w1-h1-k-no", HighRes("https://x/p=w408-h306-k-no?a=w1-h1-k-no"))
	assert.Equal(t, "https://x/p.jpg", HighRes("https://x/p.jpg"))
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "1234", DigitsOnly("(1,234)"))
	assert.Equal(t, "", DigitsOnly("no reviews"))
}
