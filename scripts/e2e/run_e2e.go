// Package main runs end-to-end checks of the diagnosis API against a live
// deployment. It covers:
//   - health check
//   - sign-in enforcement
//   - file type validation
//   - upload, inference and persistence of one image
//   - fetching and listing the stored diagnosis
//   - ownership isolation between users
//   - PDF report download
//
// The target patient must already exist in patient_info and belong to user_id "e2e-user".
//
// Usage:
//
//	AUTH_JWT_SECRET=... API_BASE_URL=... E2E_PATIENT_ID=... go run scripts/e2e/run_e2e.go [scenario-name]
//	E2E_IMAGE=./chest.png ... go run scripts/e2e/run_e2e.go upload   # use a real radiograph
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	primaryUser = "e2e-user"
	otherUser   = "e2e-intruder"
	httpTimeout = 2 * time.Minute
)

var (
	apiBase   string
	jwtSecret string
	patientID string
	imageName string
	imageData []byte
	client    = &http.Client{Timeout: httpTimeout}

	// createdID carries the diagnosis created by the upload scenario into later ones.
	createdID string
)

// 1x1 transparent PNG used when E2E_IMAGE is not set.
var fallbackPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// ---------------------------------------------------------------------------
// Scenario definition
// ---------------------------------------------------------------------------

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
	name   string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...interface{}) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func generateJWT(secret, subject string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func do(method, path, user string, body io.Reader, contentType string) (*http.Response, []byte, error) {
	req, err := http.NewRequest(method, apiBase+path, body)
	if err != nil {
		return nil, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user != "" {
		token, err := generateJWT(jwtSecret, user)
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp, data, err
}

func multipartImage(name, contentType string, data []byte) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func uploadImage(user, name, contentType string, data []byte) (*http.Response, map[string]interface{}, error) {
	body, ct, err := multipartImage(name, contentType, data)
	if err != nil {
		return nil, nil, err
	}
	resp, raw, err := do(http.MethodPost, "/api/patients/"+patientID+"/diagnoses", user, body, ct)
	if err != nil {
		return nil, nil, err
	}
	var out map[string]interface{}
	_ = json.Unmarshal(raw, &out)
	return resp, out, nil
}

func getJSON(path, user string) (*http.Response, map[string]interface{}, error) {
	resp, raw, err := do(http.MethodGet, path, user, nil, "")
	if err != nil {
		return nil, nil, err
	}
	var out map[string]interface{}
	_ = json.Unmarshal(raw, &out)
	return resp, out, nil
}

func nested(m map[string]interface{}, keys ...string) interface{} {
	var cur interface{} = m
	for _, k := range keys {
		mm, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = mm[k]
	}
	return cur
}

func imageContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}

func requireCreated(t *T) bool {
	if createdID == "" {
		t.fatalf("no diagnosis from the upload scenario; run it first")
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func scenarioHealth(t *T) {
	resp, body, err := do(http.MethodGet, "/health", "", nil, "")
	if err != nil {
		t.fatalf("health: %v", err)
		return
	}
	var out map[string]string
	_ = json.Unmarshal(body, &out)
	t.check("health returns 200", resp.StatusCode == http.StatusOK)
	t.check("health status is ok", out["status"] == "ok")
}

func scenarioSignedOut(t *T) {
	resp, _, err := uploadImage("", imageName, imageContentType(imageName), imageData)
	if err != nil {
		t.fatalf("upload: %v", err)
		return
	}
	t.check("upload without token is 401", resp.StatusCode == http.StatusUnauthorized)
}

func scenarioRejectsNonImage(t *T) {
	resp, out, err := uploadImage(primaryUser, "notes.txt", "text/plain", []byte("not an x-ray"))
	if err != nil {
		t.fatalf("upload: %v", err)
		return
	}
	t.check("non-image is 415", resp.StatusCode == http.StatusUnsupportedMediaType)
	t.check("stage is selecting", out["stage"] == "selecting")
	notice, _ := out["notice"].(string)
	t.check("notice asks for an image", strings.Contains(notice, "image file"))
}

func scenarioUpload(t *T) {
	resp, out, err := uploadImage(primaryUser, imageName, imageContentType(imageName), imageData)
	if err != nil {
		t.fatalf("upload: %v", err)
		return
	}
	if !t.checkStatus("upload is 201", resp, http.StatusCreated, out) {
		return
	}
	id, _ := nested(out, "diagnosis", "id").(string)
	createdID = id
	t.check("diagnosis id returned", id != "")
	t.check("owned by caller", nested(out, "diagnosis", "user_id") == primaryUser)
	t.check("image url stored", nested(out, "diagnosis", "image_url") != "")
	tier, _ := nested(out, "risk", "tier").(string)
	t.check("risk tier present", tier == "low" || tier == "moderate" || tier == "high")
	t.check("pdf payload hidden", nested(out, "diagnosis", "pdf_base64") == nil)
	fmt.Printf("    diagnosis %s top=%v tier=%s\n", id, nested(out, "diagnosis", "top_prediction"), tier)
}

func scenarioFetch(t *T) {
	if !requireCreated(t) {
		return
	}
	resp, out, err := getJSON("/api/diagnoses/"+createdID, primaryUser)
	if err != nil {
		t.fatalf("get: %v", err)
		return
	}
	if !t.checkStatus("get is 200", resp, http.StatusOK, out) {
		return
	}
	t.check("same id", nested(out, "diagnosis", "id") == createdID)
	if nested(out, "risk", "tier") == "high" {
		_, hasFacilities := out["facilities"]
		t.check("high risk lists facilities", hasFacilities)
	}

	resp, out, err = getJSON("/api/patients/"+patientID+"/diagnoses?limit=10", primaryUser)
	if err != nil {
		t.fatalf("list: %v", err)
		return
	}
	t.check("list is 200", resp.StatusCode == http.StatusOK)
	items, _ := out["diagnoses"].([]interface{})
	found := false
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok && nested(m, "diagnosis", "id") == createdID {
			found = true
		}
	}
	t.check("list contains new diagnosis", found)
}

func scenarioIsolation(t *T) {
	if !requireCreated(t) {
		return
	}
	resp, _, err := getJSON("/api/diagnoses/"+createdID, otherUser)
	if err != nil {
		t.fatalf("get: %v", err)
		return
	}
	t.check("other user gets 404", resp.StatusCode == http.StatusNotFound)

	resp, _, err = do(http.MethodGet, "/api/diagnoses/"+createdID+"/report", otherUser, nil, "")
	if err != nil {
		t.fatalf("report: %v", err)
		return
	}
	t.check("other user cannot export", resp.StatusCode == http.StatusNotFound)
}

func scenarioReport(t *T) {
	if !requireCreated(t) {
		return
	}
	resp, body, err := do(http.MethodGet, "/api/diagnoses/"+createdID+"/report", primaryUser, nil, "")
	if err != nil {
		t.fatalf("report: %v", err)
		return
	}
	switch resp.StatusCode {
	case http.StatusOK:
		t.check("content type is pdf", resp.Header.Get("Content-Type") == "application/pdf")
		t.check("served as attachment", strings.HasPrefix(resp.Header.Get("Content-Disposition"), "attachment"))
		t.check("body looks like a pdf", bytes.HasPrefix(body, []byte("%PDF")))
	case http.StatusNotFound:
		var out map[string]interface{}
		_ = json.Unmarshal(body, &out)
		notice, _ := out["notice"].(string)
		t.check("missing report explained", strings.Contains(notice, "No PDF report"))
	default:
		t.fatalf("unexpected report status %d: %s", resp.StatusCode, string(body))
	}
}

func (t *T) checkStatus(name string, resp *http.Response, want int, out map[string]interface{}) bool {
	ok := resp.StatusCode == want
	t.check(name, ok)
	if !ok {
		fmt.Printf("    got %d: %v\n", resp.StatusCode, out)
	}
	return ok
}

func setup() error {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	jwtSecret = os.Getenv("AUTH_JWT_SECRET")
	patientID = os.Getenv("E2E_PATIENT_ID")
	if apiBase == "" || jwtSecret == "" || patientID == "" {
		return fmt.Errorf("API_BASE_URL, AUTH_JWT_SECRET and E2E_PATIENT_ID required")
	}
	imageName, imageData = "e2e.png", fallbackPNG
	if path := os.Getenv("E2E_IMAGE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read E2E_IMAGE: %w", err)
		}
		imageName, imageData = filepath.Base(path), data
	}
	return nil
}

func main() {
	if err := setup(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}

	scenarios := []scenario{
		{"health", scenarioHealth},
		{"signed-out", scenarioSignedOut},
		{"rejects-non-image", scenarioRejectsNonImage},
		{"upload", scenarioUpload},
		{"fetch", scenarioFetch},
		{"isolation", scenarioIsolation},
		{"report", scenarioReport},
	}

	// Filter by name if argument provided
	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	totalPassed := 0
	totalFailed := 0
	scenarioResults := make([]string, 0)

	for _, s := range scenarios {
		if filter != "" && s.Name != filter {
			continue
		}

		fmt.Printf("\n========================================\n")
		fmt.Printf("SCENARIO: %s\n", s.Name)
		fmt.Printf("========================================\n")

		t := &T{name: s.Name}
		s.Fn(t)

		totalPassed += t.passed
		totalFailed += t.failed

		status := "PASS"
		if t.failed > 0 {
			status = "FAIL"
		}
		scenarioResults = append(scenarioResults, fmt.Sprintf("  %s %s (%d passed, %d failed)", status, s.Name, t.passed, t.failed))
	}

	fmt.Printf("\n========================================\n")
	fmt.Println("SUMMARY")
	fmt.Printf("========================================\n")
	for _, r := range scenarioResults {
		fmt.Println(r)
	}
	fmt.Printf("\nTotal: %d passed, %d failed\n", totalPassed, totalFailed)

	if totalFailed > 0 {
		fmt.Println("\nSOME CHECKS FAILED")
		os.Exit(1)
	}
	fmt.Println("\nALL CHECKS PASSED")
}
