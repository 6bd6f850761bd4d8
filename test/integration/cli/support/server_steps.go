package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/checkercal/internal/pipeline"
	"github.com/MeKo-Tech/checkercal/internal/server"
	"github.com/cucumber/godog"
)

var httpClient = &http.Client{Timeout: 2 * time.Minute}

// theServerIsRunning starts the API in-process on a random port.
func (testCtx *TestContext) theServerIsRunning() error {
	if testCtx.HTTPServer != nil {
		return nil
	}
	pc := pipeline.DefaultConfig()
	pc.Board = defaultBoard
	s, err := server.NewServer(server.Config{
		CORSOrigin:  "*",
		MaxUploadMB: 50,
		TimeoutSec:  120,
		Pipeline:    pc,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	testCtx.HTTPServer = httptest.NewServer(s.Handler())
	return nil
}

func (testCtx *TestContext) serverURL(path string) (string, error) {
	if testCtx.HTTPServer == nil {
		return "", errors.New("server is not running")
	}
	return testCtx.HTTPServer.URL + path, nil
}

func (testCtx *TestContext) do(req *http.Request) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = resp.Header
	return nil
}

// iSendGETRequest requests path from the running server.
func (testCtx *TestContext) iSendGETRequest(path string) error {
	u, err := testCtx.serverURL(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

// iPutTheModel uploads a model file as the server's active model.
func (testCtx *TestContext) iPutTheModel(filename string) error {
	u, err := testCtx.serverURL("/v1/model")
	if err != nil {
		return err
	}
	data, err := os.ReadFile(testCtx.Path(filename))
	if err != nil {
		return fmt.Errorf("read model: %w", err)
	}
	req, err := http.NewRequest(http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/yaml")
	return testCtx.do(req)
}

// postMultipart sends files under field plus the given form values.
func (testCtx *TestContext) postMultipart(path, field string, files []string, fields url.Values) error {
	u, err := testCtx.serverURL(path)
	if err != nil {
		return err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		data, err := os.ReadFile(f) //nolint:gosec // G304: scenario files
		if err != nil {
			return fmt.Errorf("read upload: %w", err)
		}
		part, err := mw.CreateFormFile(field, filepath.Base(f))
		if err != nil {
			return err
		}
		if _, err := part.Write(data); err != nil {
			return err
		}
	}
	for k, vs := range fields {
		for _, v := range vs {
			if err := mw.WriteField(k, v); err != nil {
				return err
			}
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, u, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return testCtx.do(req)
}

// iUploadTheDataset posts every PNG of a dataset directory for calibration.
// fields is a query string such as "apply=true&format=text".
func (testCtx *TestContext) iUploadTheDataset(dir, fields string) error {
	files, err := filepath.Glob(filepath.Join(testCtx.Path(dir), "*.png"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no PNG files in %s", dir)
	}
	slices.Sort(files)
	values, err := url.ParseQuery(fields)
	if err != nil {
		return fmt.Errorf("invalid form fields %q: %w", fields, err)
	}
	return testCtx.postMultipart("/v1/calibrate", "images", files, values)
}

func (testCtx *TestContext) iUploadTheDatasetWithoutFields(dir string) error {
	return testCtx.iUploadTheDataset(dir, "")
}

// iUploadTheImage posts a single image to an endpoint taking 'image'.
func (testCtx *TestContext) iUploadTheImage(filename, path string) error {
	return testCtx.postMultipart(path, "image", []string{testCtx.Path(filename)}, nil)
}

// theResponseStatusShouldBe checks the last HTTP status.
func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d\nBody: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

// theResponseShouldContain checks the last response body.
func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain '%s'\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

// theResponseHeaderShouldContain checks a header of the last response.
func (testCtx *TestContext) theResponseHeaderShouldContain(name, text string) error {
	if got := testCtx.LastHTTPHeaders.Get(name); !strings.Contains(got, text) {
		return fmt.Errorf("header %s is '%s', want it to contain '%s'", name, got, text)
	}
	return nil
}

// theResponseJSONFieldShouldBe compares a field of the last JSON response.
func (testCtx *TestContext) theResponseJSONFieldShouldBe(field, want string) error {
	var data any
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &data); err != nil {
		return fmt.Errorf("response is not valid JSON: %w\nBody: %s", err, testCtx.LastHTTPResponse)
	}
	return fieldEquals(data, field, want)
}

// RegisterServerSteps registers HTTP API steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the calibration server is running$`, testCtx.theServerIsRunning)
	sc.Step(`^I send a GET request to "([^"]*)"$`, testCtx.iSendGETRequest)
	sc.Step(`^I put the model "([^"]*)"$`, testCtx.iPutTheModel)
	sc.Step(`^I upload the dataset "([^"]*)" for calibration$`, testCtx.iUploadTheDatasetWithoutFields)
	sc.Step(`^I upload the dataset "([^"]*)" for calibration with "([^"]*)"$`, testCtx.iUploadTheDataset)
	sc.Step(`^I upload the image "([^"]*)" to "([^"]*)"$`, testCtx.iUploadTheImage)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should contain "([^"]*)"$`, testCtx.theResponseHeaderShouldContain)
	sc.Step(`^the response JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseJSONFieldShouldBe)
}
