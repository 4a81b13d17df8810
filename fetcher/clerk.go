package fetcher

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"property-scraper/config"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrLoginFailed is returned when the portal does not land on its home page after login
var ErrLoginFailed = eris.New("clerk: login failed, invalid credentials or network issue")

// loginSuccessPath is where the portal redirects an authenticated session
const loginSuccessPath = "/Applications/WebSearch/Home.aspx"

// ASP.NET WebForms hidden fields echoed back on every post
var (
	loginStateFields  = []string{"__EVENTTARGET", "__EVENTARGUMENT", "__VIEWSTATE", "__VIEWSTATEGENERATOR", "__VIEWSTATEENCRYPTED", "__EVENTVALIDATION"}
	searchStateFields = append(append([]string{}, loginStateFields...), "__LASTFOCUS")
)

// ClerkClient holds an authenticated session with the county clerk portal.
// The session is established lazily on first use and reused afterwards.
type ClerkClient struct {
	cfg       config.ClerkConfig
	collector *colly.Collector
	origin    string

	mu             sync.Mutex
	ready          bool
	securityParams map[string]string
}

// NewClerkClient creates a new ClerkClient instance
func NewClerkClient(cfg config.ClerkConfig) (*ClerkClient, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "clerk: parse base url")
	}

	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(time.Duration(cfg.TimeoutSecs) * time.Second)

	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       time.Duration(cfg.DelayMillis) * time.Millisecond,
	}); err != nil {
		return nil, eris.Wrap(err, "clerk: set limit rule")
	}

	return &ClerkClient{cfg: cfg, collector: c, origin: base.Scheme + "://" + base.Host}, nil
}

// page is one fetched response
type page struct {
	finalURL *url.URL
	status   int
	body     []byte
}

// do performs a single GET (data == nil) or form POST and returns the response
func (cc *ClerkClient) do(ctx context.Context, target string, data map[string]string) (*page, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "clerk: request cancelled")
	}

	// Clones share the backend, so cookies and limit rules carry over; callbacks do not.
	c := cc.collector.Clone()
	c.Context = ctx
	c.MaxBodySize = 0

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "*/*")
		r.Headers.Set("Accept-Language", "en-GB,en-US;q=0.9,en;q=0.8")
		r.Headers.Set("Cache-Control", "no-cache")
		r.Headers.Set("Pragma", "no-cache")
		r.Headers.Set("Origin", cc.origin)
		r.Headers.Set("Referer", cc.cfg.BaseURL)
		if r.Method == "POST" {
			r.Headers.Set("X-Requested-With", "XMLHttpRequest")
		}
	})

	var result *page
	var reqErr error
	c.OnResponse(func(r *colly.Response) {
		result = &page{finalURL: r.Request.URL, status: r.StatusCode, body: r.Body}
	})
	c.OnError(func(r *colly.Response, err error) {
		reqErr = err
		if r != nil {
			zap.L().Warn("clerk request failed",
				zap.String("url", target),
				zap.Int("status", r.StatusCode),
				zap.Error(err),
			)
		}
	})

	var err error
	if data == nil {
		err = c.Visit(target)
	} else {
		err = c.Post(target, data)
	}
	if err == nil {
		err = reqErr
	}
	if err != nil {
		return nil, eris.Wrapf(err, "clerk: request %s", target)
	}
	if result == nil {
		return nil, eris.Errorf("clerk: empty response from %s", target)
	}
	return result, nil
}

// hiddenFields reads the named hidden inputs of an ASP.NET form page
func hiddenFields(body []byte, names []string) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "clerk: parse form page")
	}
	fields := make(map[string]string, len(names))
	for _, name := range names {
		fields[name] = doc.Find("input#" + name).AttrOr("value", "")
	}
	return fields, nil
}

// Login authenticates the session with the configured credentials
func (cc *ClerkClient) Login(ctx context.Context) error {
	if cc.cfg.Username == "" || cc.cfg.Password == "" {
		zap.L().Warn("no clerk credentials configured, searching anonymously")
		return nil
	}

	loginPage, err := cc.do(ctx, cc.cfg.LoginURL, nil)
	if err != nil {
		return eris.Wrap(err, "clerk: load login page")
	}

	form, err := hiddenFields(loginPage.body, loginStateFields)
	if err != nil {
		return err
	}
	form["ctl00$ContentPlaceHolder1$Login1$UserName"] = cc.cfg.Username
	form["ctl00$ContentPlaceHolder1$Login1$Password"] = cc.cfg.Password
	form["ctl00$ContentPlaceHolder1$Login1$LoginButton"] = "Log In"

	resp, err := cc.do(ctx, cc.cfg.LoginURL, form)
	if err != nil {
		return eris.Wrap(err, "clerk: submit login")
	}

	if !strings.HasSuffix(resp.finalURL.Path, loginSuccessPath) {
		zap.L().Error("clerk authentication failed", zap.String("landed_on", resp.finalURL.String()))
		return ErrLoginFailed
	}

	zap.L().Info("authenticated with county clerk portal")
	return nil
}

// SecurityParams fetches the search form's hidden state fields
func (cc *ClerkClient) SecurityParams(ctx context.Context) (map[string]string, error) {
	resp, err := cc.do(ctx, cc.cfg.SearchURL, map[string]string{})
	if err != nil {
		return nil, eris.Wrap(err, "clerk: load search form")
	}
	return hiddenFields(resp.body, searchStateFields)
}

// ensureSession logs in and reads the search form state once per client
func (cc *ClerkClient) ensureSession(ctx context.Context) (map[string]string, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.ready {
		return cc.securityParams, nil
	}

	if err := cc.Login(ctx); err != nil {
		return nil, err
	}
	params, err := cc.SecurityParams(ctx)
	if err != nil {
		return nil, err
	}

	cc.securityParams = params
	cc.ready = true
	zap.L().Info("clerk session initialized")
	return params, nil
}

// Reset drops the cached session so the next call logs in again
func (cc *ClerkClient) Reset() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.ready = false
	cc.securityParams = nil
}

// SearchForm builds the portal's search post for one instrument code
func SearchForm(code, startDate, endDate string, security map[string]string) map[string]string {
	form := map[string]string{
		"ctl00$ScriptManager1":                      "ctl00$ScriptManager1|ctl00$ContentPlaceHolder1$btnSearch",
		"ctl00$ContentPlaceHolder1$hfSearchType":     "0",
		"ctl00$ContentPlaceHolder1$hfViewCopyOrders": "False",
		"ctl00$ContentPlaceHolder1$hfViewECart":      "False",
		"ctl00$ContentPlaceHolder1$txtFN":            "",
		"ctl00$ContentPlaceHolder1$txtFilmCd":        "",
		"ctl00$ContentPlaceHolder1$txtDateN":         startDate,
		"ctl00$ContentPlaceHolder1$txtDateTo":        endDate,
		"ctl00$ContentPlaceHolder1$txtNameOR":        "",
		"ctl00$ContentPlaceHolder1$txtNameEE":        "",
		"ctl00$ContentPlaceHolder1$txtNameTee":       "",
		"ctl00$ContentPlaceHolder1$txtDesc":          "",
		"ctl00$ContentPlaceHolder1$txtType":          code,
		"ctl00$ContentPlaceHolder1$txtVolNo":         "",
		"ctl00$ContentPlaceHolder1$txtPageNo":        "",
		"ctl00$ContentPlaceHolder1$txtSection":       "",
		"ctl00$ContentPlaceHolder1$txtLot":           "",
		"ctl00$ContentPlaceHolder1$txtBlock":         "",
		"ctl00$ContentPlaceHolder1$txtUnit":          "",
		"ctl00$ContentPlaceHolder1$txtAbstract":      "",
		"ctl00$ContentPlaceHolder1$txtOutLot":        "",
		"ctl00$ContentPlaceHolder1$txtTract":         "",
		"ctl00$ContentPlaceHolder1$txtReserve":       "",
		"ctl00$ContentPlaceHolder1$btnSearch":        "Search",
	}
	for k, v := range security {
		form[k] = v
	}
	return form
}

// Search implements the RecordSource interface
func (cc *ClerkClient) Search(ctx context.Context, code, startDate, endDate string) (string, error) {
	if !ValidDate(startDate) || !ValidDate(endDate) {
		return "", eris.Errorf("clerk: dates must be MM/DD/YYYY, got %q and %q", startDate, endDate)
	}

	security, err := cc.ensureSession(ctx)
	if err != nil {
		return "", err
	}

	zap.L().Info("searching clerk records",
		zap.String("code", code),
		zap.String("start", startDate),
		zap.String("end", endDate),
	)

	resp, err := cc.do(ctx, cc.cfg.SearchURL, SearchForm(code, startDate, endDate, security))
	if err != nil {
		return "", eris.Wrapf(err, "clerk: search %s", code)
	}

	zap.L().Info("retrieved clerk search results",
		zap.String("code", code),
		zap.Int("status", resp.status),
		zap.Int("bytes", len(resp.body)),
	)
	return string(resp.body), nil
}

// DownloadPDF implements the DocumentDownloader interface
func (cc *ClerkClient) DownloadPDF(ctx context.Context, pdfURL, outputPath string) (int64, error) {
	if _, err := cc.ensureSession(ctx); err != nil {
		return 0, err
	}

	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, eris.Wrapf(err, "clerk: create %s", dir)
		}
	}

	resp, err := cc.do(ctx, pdfURL, nil)
	if err != nil {
		return 0, eris.Wrap(err, "clerk: download pdf")
	}
	if len(resp.body) == 0 {
		return 0, eris.Errorf("clerk: empty document at %s", pdfURL)
	}

	if err := os.WriteFile(outputPath, resp.body, 0o644); err != nil {
		return 0, eris.Wrapf(err, "clerk: write %s", outputPath)
	}

	zap.L().Info("downloaded instrument document",
		zap.String("path", outputPath),
		zap.Int("bytes", len(resp.body)),
	)
	return int64(len(resp.body)), nil
}

// ValidDate reports whether s is a MM/DD/YYYY date
func ValidDate(s string) bool {
	_, err := time.Parse("01/02/2006", s)
	return err == nil
}
