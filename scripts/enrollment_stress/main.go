// Command enrollment_stress fires concurrent enrollment requests at one
// subject and verifies that the API never admits more students than the
// subject's capacity. Run it against a disposable database.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type studentsFile struct {
	StudentIDs []string `json:"student_ids"`
}

type enrollRequest struct {
	StudentID string `json:"student_id"`
	SubjectID string `json:"subject_id"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Error *apiError `json:"error"`
}

type attempt struct {
	StudentID string
	Status    int
	Code      string
	Duration  time.Duration
	Err       error
}

func main() {
	var (
		base         string
		token        string
		subjectID    string
		studentsPath string
		capacity     int
		timeout      time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&token, "token", "", "Bearer token with admin role")
	flag.StringVar(&subjectID, "subject", "", "Subject ID to saturate")
	flag.StringVar(&studentsPath, "students", filepath.Join("scripts", "enrollment_stress", "students.json"), "Path to JSON file listing student IDs")
	flag.IntVar(&capacity, "capacity", 0, "Subject max capacity (expected admission ceiling)")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.Parse()

	if subjectID == "" || capacity <= 0 {
		log.Fatal("both -subject and a positive -capacity are required")
	}

	studentIDs, err := loadStudents(studentsPath)
	if err != nil {
		log.Fatalf("failed to load students: %v", err)
	}
	if len(studentIDs) <= capacity {
		log.Fatalf("need more students (%d) than capacity (%d) to exercise the limit", len(studentIDs), capacity)
	}

	client := &http.Client{Timeout: timeout}
	attempts := fireAll(client, base, token, subjectID, studentIDs)

	printReport(attempts, capacity)

	admitted := 0
	for _, a := range attempts {
		if a.Status == http.StatusCreated {
			admitted++
		}
	}
	if admitted > capacity {
		fmt.Printf("FAIL: %d admissions exceed capacity %d\n", admitted, capacity)
		os.Exit(1)
	}
	fmt.Printf("OK: %d of %d requests admitted, capacity %d held\n", admitted, len(attempts), capacity)
}

func loadStudents(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f studentsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.StudentIDs) == 0 {
		return nil, fmt.Errorf("no student_ids defined in %s", path)
	}
	return f.StudentIDs, nil
}

// fireAll releases every request at once so the count-then-insert window is
// contended as hard as the client can manage.
func fireAll(client *http.Client, base, token, subjectID string, studentIDs []string) []attempt {
	attempts := make([]attempt, len(studentIDs))
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i, id := range studentIDs {
		wg.Add(1)
		go func(i int, studentID string) {
			defer wg.Done()
			<-start
			attempts[i] = enroll(client, base, token, subjectID, studentID)
		}(i, id)
	}
	close(start)
	wg.Wait()

	return attempts
}

func enroll(client *http.Client, base, token, subjectID, studentID string) attempt {
	a := attempt{StudentID: studentID}

	payload, err := json.Marshal(enrollRequest{StudentID: studentID, SubjectID: subjectID})
	if err != nil {
		a.Err = err
		return a
	}

	url := strings.TrimRight(base, "/") + "/api/v1/enrollments"
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		a.Err = err
		return a
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	begin := time.Now()
	resp, err := client.Do(req)
	a.Duration = time.Since(begin)
	if err != nil {
		a.Err = err
		return a
	}
	defer resp.Body.Close()

	a.Status = resp.StatusCode
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error != nil {
		a.Code = env.Error.Code
	}
	return a
}

func printReport(attempts []attempt, capacity int) {
	fmt.Println("Enrollment Stress Report")
	fmt.Println("========================")

	byCode := map[string]int{}
	var failures int
	for _, a := range attempts {
		switch {
		case a.Err != nil:
			failures++
		case a.Status == http.StatusCreated:
			byCode["ADMITTED"]++
		case a.Code != "":
			byCode[a.Code]++
		default:
			byCode[fmt.Sprintf("HTTP_%d", a.Status)]++
		}
	}

	codes := make([]string, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Printf("  %-22s %d\n", code, byCode[code])
	}
	if failures > 0 {
		fmt.Printf("  %-22s %d\n", "TRANSPORT_ERROR", failures)
	}
	fmt.Printf("  %-22s %d\n", "CAPACITY", capacity)
}
