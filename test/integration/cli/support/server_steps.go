package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
	"github.com/MeKo-Tech/ticketocr/internal/server"
	"github.com/MeKo-Tech/ticketocr/internal/testutil"
	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"
)

const (
	requestTimeout = 5 * time.Second
	waitTimeout    = 5 * time.Second
	pollInterval   = 20 * time.Millisecond
)

var errStreamClosed = errors.New("stream closed")

func (testCtx *TestContext) startServer(opts ServerOptions) error {
	if testCtx.Server != nil {
		return errors.New("server already running in this scenario")
	}
	srv, err := StartTestServer(opts)
	if err != nil {
		return err
	}
	testCtx.Server = srv
	return nil
}

func (testCtx *TestContext) theTicketServerIsRunning() error {
	return testCtx.startServer(ServerOptions{})
}

func (testCtx *TestContext) theTicketServerIsRunningWithWorkers(workers int) error {
	return testCtx.startServer(ServerOptions{Workers: workers})
}

func (testCtx *TestContext) theTicketServerIsRunningWithARateLimit(perMinute int) error {
	return testCtx.startServer(ServerOptions{RequestsPerMinute: perMinute})
}

func (testCtx *TestContext) requireServer() (*TestServer, error) {
	if testCtx.Server == nil {
		return nil, errors.New("no server running; add 'Given the ticket server is running'")
	}
	return testCtx.Server, nil
}

func (testCtx *TestContext) theRecognizerIsPaused() error {
	srv, err := testCtx.requireServer()
	if err != nil {
		return err
	}
	srv.Pause()
	return nil
}

func (testCtx *TestContext) theRecognizerIsResumed() error {
	srv, err := testCtx.requireServer()
	if err != nil {
		return err
	}
	srv.Resume()
	return nil
}

func (testCtx *TestContext) theRecognizerFailsOnScan(n int) error {
	srv, err := testCtx.requireServer()
	if err != nil {
		return err
	}
	data, err := scanPNG(n)
	if err != nil {
		return err
	}
	srv.Engine.Fail(string(data), errors.New("scripted recognition failure"))
	return nil
}

func (testCtx *TestContext) theRecognizerReadsScanAs(n int, text *godog.DocString) error {
	srv, err := testCtx.requireServer()
	if err != nil {
		return err
	}
	data, err := scanPNG(n)
	if err != nil {
		return err
	}
	srv.Engine.OnText(string(data), text.Content, 90)
	return nil
}

// do sends a request and records status, body and headers.
func (testCtx *TestContext) do(req *http.Request) error {
	client := &http.Client{Timeout: requestTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = resp.Header
	return nil
}

func (testCtx *TestContext) request(method, endpoint string, body io.Reader, contentType string) error {
	srv, err := testCtx.requireServer()
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, srv.URL()+testCtx.substitute(endpoint), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) iGET(endpoint string) error {
	return testCtx.request(http.MethodGet, endpoint, nil, "")
}

func (testCtx *TestContext) iDELETE(endpoint string) error {
	return testCtx.request(http.MethodDelete, endpoint, nil, "")
}

func (testCtx *TestContext) iSendOPTIONSTo(endpoint string) error {
	return testCtx.request(http.MethodOptions, endpoint, nil, "")
}

type formFile struct {
	name string
	data []byte
}

func multipartBody(field string, files ...formFile) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile(field, f.name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

func (testCtx *TestContext) upload(endpoint, field string, files ...formFile) error {
	body, contentType, err := multipartBody(field, files...)
	if err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}
	return testCtx.request(http.MethodPost, endpoint, body, contentType)
}

func (testCtx *TestContext) iUploadScanAs(n int, name string) error {
	data, err := scanPNG(n)
	if err != nil {
		return err
	}
	return testCtx.upload("/tickets", "image", formFile{name: name, data: data})
}

func (testCtx *TestContext) iUploadAFileThatIsNotAnImage() error {
	return testCtx.upload("/tickets", "image", formFile{name: "notes.png", data: []byte("definitely not a png")})
}

func (testCtx *TestContext) postText(name, text string) error {
	payload, err := json.Marshal(server.TextRequest{Name: name, Text: text})
	if err != nil {
		return err
	}
	return testCtx.request(http.MethodPost, "/tickets/text", bytes.NewReader(payload), "application/json")
}

func (testCtx *TestContext) iPostTheSampleTicketTextAs(name string) error {
	return testCtx.postText(name, testutil.SampleTicketText)
}

func (testCtx *TestContext) iPostTicketTextNamed(name string, text *godog.DocString) error {
	return testCtx.postText(name, text.Content)
}

func (testCtx *TestContext) iSubmitABatchOfScans(n int) error {
	files := make([]formFile, n)
	for i := range files {
		data, err := scanPNG(i + 1)
		if err != nil {
			return err
		}
		files[i] = formFile{name: fmt.Sprintf("scan-%d.png", i+1), data: data}
	}
	if err := testCtx.upload("/batches", "images", files...); err != nil {
		return err
	}
	if testCtx.LastHTTPStatusCode == http.StatusAccepted {
		var resp server.BatchResponse
		if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &resp); err != nil {
			return fmt.Errorf("failed to decode batch response: %w", err)
		}
		testCtx.BatchID = resp.BatchID.String()
	}
	return nil
}

func (testCtx *TestContext) iSubmitABatchWithoutFiles() error {
	return testCtx.upload("/batches", "images")
}

func (testCtx *TestContext) iCancelTheBatch() error {
	if testCtx.BatchID == "" {
		return errors.New("no batch submitted")
	}
	return testCtx.iDELETE("/batches/{batch}")
}

// snapshot fetches the current batch snapshot.
func (testCtx *TestContext) snapshot() (scheduler.Snapshot, error) {
	var snap scheduler.Snapshot
	if err := testCtx.iGET("/batches/{batch}"); err != nil {
		return snap, err
	}
	if testCtx.LastHTTPStatusCode != http.StatusOK {
		return snap, fmt.Errorf("batch snapshot returned %d: %s", testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &snap); err != nil {
		return snap, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

func (testCtx *TestContext) waitForBatch(done func(scheduler.Snapshot) bool) (scheduler.Snapshot, error) {
	deadline := time.Now().Add(waitTimeout)
	for {
		snap, err := testCtx.snapshot()
		if err != nil {
			return snap, err
		}
		if done(snap) {
			return snap, nil
		}
		if time.Now().After(deadline) {
			return snap, fmt.Errorf("batch still %s after %s", snap.Status, waitTimeout)
		}
		time.Sleep(pollInterval)
	}
}

func (testCtx *TestContext) theBatchShouldFinishWithStatus(status string) error {
	snap, err := testCtx.waitForBatch(func(s scheduler.Snapshot) bool { return s.Status.Finished() })
	if err != nil {
		return err
	}
	if string(snap.Status) != status {
		return fmt.Errorf("expected batch status %q, got %q", status, snap.Status)
	}
	return nil
}

func (testCtx *TestContext) itemsShouldBe(n int, status string) error {
	snap, err := testCtx.snapshot()
	if err != nil {
		return err
	}
	got := 0
	for _, it := range snap.Items {
		if string(it.Status) == status {
			got++
		}
	}
	if got != n {
		return fmt.Errorf("expected %d items %q, got %d", n, status, got)
	}
	return nil
}

func (testCtx *TestContext) itemsShouldBeRemoved(n int) error {
	snap, err := testCtx.snapshot()
	if err != nil {
		return err
	}
	_, _, _, _, removed := snap.Counts()
	if removed != n {
		return fmt.Errorf("expected %d removed items, got %d", n, removed)
	}
	return nil
}

func (testCtx *TestContext) aScanShouldBeProcessing() error {
	_, err := testCtx.waitForBatch(func(s scheduler.Snapshot) bool {
		_, processing, _, _, _ := s.Counts()
		return processing > 0
	})
	return err
}

func (testCtx *TestContext) itemShouldHaveTheError(name, text string) error {
	snap, err := testCtx.snapshot()
	if err != nil {
		return err
	}
	for _, it := range snap.Items {
		if it.Name != name {
			continue
		}
		if !strings.Contains(it.Error, text) {
			return fmt.Errorf("item %s error %q does not mention %q", name, it.Error, text)
		}
		return nil
	}
	return fmt.Errorf("item %s not in batch", name)
}

func (testCtx *TestContext) theResponseStatusShouldBe(expectedStatus int) error {
	if testCtx.LastHTTPStatusCode != expectedStatus {
		return fmt.Errorf("expected status %d, got %d: %s", expectedStatus, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("expected response to contain %q, got:\n%s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldBeValidJSON() error {
	if !json.Valid([]byte(testCtx.LastHTTPResponse)) {
		return fmt.Errorf("response is not valid JSON:\n%s", testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, value string) error {
	if got := testCtx.LastHTTPHeaders.Get(name); got != value {
		return fmt.Errorf("expected header %s=%q, got %q", name, value, got)
	}
	return nil
}

func (testCtx *TestContext) theResponseFieldShouldBe(name, want string) error {
	tickets, err := decodeTickets([]byte(testCtx.LastHTTPResponse))
	if err != nil {
		return err
	}
	return checkField(tickets, name, want)
}

func (testCtx *TestContext) theResponseTicketShouldNeedVerification() error {
	tickets, err := decodeTickets([]byte(testCtx.LastHTTPResponse))
	if err != nil {
		return err
	}
	if !tickets[0].NeedsVerification {
		return fmt.Errorf("ticket does not need verification (confidence %.1f)", tickets[0].Confidence)
	}
	return nil
}

// streamReader collects websocket frames in the background.
type streamReader struct {
	conn   *websocket.Conn
	frames chan server.WebSocketMessage
	done   chan struct{}
}

func (r *streamReader) read() {
	defer close(r.done)
	defer close(r.frames)
	for {
		var msg server.WebSocketMessage
		if err := r.conn.ReadJSON(&msg); err != nil {
			return
		}
		r.frames <- msg
	}
}

func (r *streamReader) close() {
	_ = r.conn.Close()
	// Drain so the reader never blocks on a full channel.
	for range r.frames {
	}
	<-r.done
}

func (testCtx *TestContext) iOpenTheBatchStream() error {
	srv, err := testCtx.requireServer()
	if err != nil {
		return err
	}
	if testCtx.BatchID == "" {
		return errors.New("no batch submitted")
	}
	url := "ws" + strings.TrimPrefix(srv.URL(), "http") + "/ws/batches/" + testCtx.BatchID
	dialer := websocket.Dialer{HandshakeTimeout: requestTimeout}
	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	testCtx.stream = &streamReader{
		conn:   conn,
		frames: make(chan server.WebSocketMessage, 256),
		done:   make(chan struct{}),
	}
	testCtx.StreamMessages = nil
	go testCtx.stream.read()
	return nil
}

// nextFrame waits for one more frame.
func (testCtx *TestContext) nextFrame() (server.WebSocketMessage, error) {
	if testCtx.stream == nil {
		return server.WebSocketMessage{}, errors.New("no stream open")
	}
	select {
	case msg, ok := <-testCtx.stream.frames:
		if !ok {
			return server.WebSocketMessage{}, errStreamClosed
		}
		testCtx.StreamMessages = append(testCtx.StreamMessages, msg)
		return msg, nil
	case <-time.After(waitTimeout):
		return server.WebSocketMessage{}, fmt.Errorf("no stream frame within %s", waitTimeout)
	}
}

func (testCtx *TestContext) theFirstStreamFrameShouldBe(typ string) error {
	msg, err := testCtx.nextFrame()
	if err != nil {
		return err
	}
	if msg.Type != typ {
		return fmt.Errorf("expected first frame %q, got %q", typ, msg.Type)
	}
	return nil
}

// theStreamShouldEndWith reads until the server closes the stream and checks
// the last frame.
func (testCtx *TestContext) theStreamShouldEndWith(typ string) error {
	for {
		_, err := testCtx.nextFrame()
		if errors.Is(err, errStreamClosed) {
			break
		}
		if err != nil {
			return err
		}
	}
	if len(testCtx.StreamMessages) == 0 {
		return errors.New("stream closed without frames")
	}
	last := testCtx.StreamMessages[len(testCtx.StreamMessages)-1]
	if last.Type != typ {
		return fmt.Errorf("expected last frame %q, got %q", typ, last.Type)
	}
	return nil
}

// streamProgressShouldNeverDecrease checks that the done count of successive
// frames is monotonic.
func (testCtx *TestContext) streamProgressShouldNeverDecrease() error {
	prev := -1
	for i, msg := range testCtx.StreamMessages {
		done := msg.Batch.Done()
		if done < prev {
			return fmt.Errorf("frame %d reports %d done after %d", i, done, prev)
		}
		prev = done
	}
	return nil
}

// RegisterServerSteps registers all server mode step definitions.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	// Server lifecycle
	sc.Step(`^the ticket server is running$`, testCtx.theTicketServerIsRunning)
	sc.Step(`^the ticket server is running with (\d+) workers?$`, testCtx.theTicketServerIsRunningWithWorkers)
	sc.Step(`^the ticket server is running with a limit of (\d+) requests per minute$`, testCtx.theTicketServerIsRunningWithARateLimit)

	// Recognizer scripting
	sc.Step(`^the recognizer is paused$`, testCtx.theRecognizerIsPaused)
	sc.Step(`^the recognizer is resumed$`, testCtx.theRecognizerIsResumed)
	sc.Step(`^the recognizer fails on scan (\d+)$`, testCtx.theRecognizerFailsOnScan)
	sc.Step(`^the recognizer reads scan (\d+) as:$`, testCtx.theRecognizerReadsScanAs)

	// API requests
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I DELETE "([^"]*)"$`, testCtx.iDELETE)
	sc.Step(`^I send OPTIONS to "([^"]*)"$`, testCtx.iSendOPTIONSTo)
	sc.Step(`^I upload scan (\d+) as "([^"]*)"$`, testCtx.iUploadScanAs)
	sc.Step(`^I upload a file that is not an image$`, testCtx.iUploadAFileThatIsNotAnImage)
	sc.Step(`^I post the sample ticket text as "([^"]*)"$`, testCtx.iPostTheSampleTicketTextAs)
	sc.Step(`^I post ticket text named "([^"]*)":$`, testCtx.iPostTicketTextNamed)
	sc.Step(`^I submit a batch of (\d+) scans?$`, testCtx.iSubmitABatchOfScans)
	sc.Step(`^I submit a batch without files$`, testCtx.iSubmitABatchWithoutFiles)
	sc.Step(`^I cancel the batch$`, testCtx.iCancelTheBatch)

	// Batch state
	sc.Step(`^the batch should finish with status "([^"]*)"$`, testCtx.theBatchShouldFinishWithStatus)
	sc.Step(`^(\d+) items? should be "([^"]*)"$`, testCtx.itemsShouldBe)
	sc.Step(`^(\d+) items? should be removed$`, testCtx.itemsShouldBeRemoved)
	sc.Step(`^a scan should be processing$`, testCtx.aScanShouldBeProcessing)
	sc.Step(`^item "([^"]*)" should have an error mentioning "([^"]*)"$`, testCtx.itemShouldHaveTheError)

	// Response verification
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response should be valid JSON$`, testCtx.theResponseShouldBeValidJSON)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseFieldShouldBe)
	sc.Step(`^the response ticket should need verification$`, testCtx.theResponseTicketShouldNeedVerification)

	// Streaming
	sc.Step(`^I open the batch stream$`, testCtx.iOpenTheBatchStream)
	sc.Step(`^the first stream frame should be "([^"]*)"$`, testCtx.theFirstStreamFrameShouldBe)
	sc.Step(`^the stream should end with "([^"]*)"$`, testCtx.theStreamShouldEndWith)
	sc.Step(`^stream progress should never decrease$`, testCtx.streamProgressShouldNeverDecrease)
}
