package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atlascall/sales-copilot/backend/internal/ingest"
	"github.com/atlascall/sales-copilot/backend/internal/model/call"
)

// callsim drives a running backend through a scripted sales call: it
// starts a session, feeds turns over the audio websocket, and prints
// whatever comes back on the transcript and suggestion streams.

var demoScript = []string{
	"rep: Hi, thanks for joining today.",
	"customer: Nice to meet you, thanks for taking the time.",
	"customer: We're struggling with manual reporting, it's a huge pain.",
	"rep: How much time does the team lose on that today?",
	"customer: Hours every week, and our budget for tooling is around 30k.",
	"customer: Honestly I'm worried about how long rollout would take.",
	"rep: That's fair, most teams are live within two weeks.",
	"customer: Okay, that sounds good, what are the next steps?",
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	server := flag.String("server", "http://localhost:8080", "backend base URL")
	scriptPath := flag.String("script", "", "script file with 'speaker: text' lines (default: built-in demo)")
	delay := flag.Duration("delay", 1500*time.Millisecond, "pause between turns")
	rep := flag.String("rep", "sim-rep", "rep identifier for the session")
	end := flag.Bool("end", true, "end the session and print the summary when the script finishes")
	flag.Parse()

	script := demoScript
	if *scriptPath != "" {
		var err error
		script, err = loadScript(*scriptPath)
		if err != nil {
			log.Fatalf("failed to load script: %v", err)
		}
	}

	sessionID, err := startSession(*server, *rep)
	if err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	log.Printf("session started: %s", sessionID)

	wsBase := "ws" + strings.TrimPrefix(*server, "http")

	suggestions := dial(wsBase + "/ws/suggestions/" + sessionID)
	defer suggestions.Close()
	go printEvents("suggestion", suggestions)

	audio := dial(wsBase + "/ws/audio/" + sessionID)
	defer audio.Close()
	go printEvents("transcript", audio)

	for _, line := range script {
		speaker, text, ok := parseLine(line)
		if !ok {
			log.Printf("skipping malformed line: %q", line)
			continue
		}
		frag := ingest.Fragment{
			Speaker:    speaker,
			Text:       text,
			Final:      true,
			Confidence: 0.95,
			At:         time.Now(),
		}
		if err := audio.WriteJSON(frag); err != nil {
			log.Fatalf("failed to send turn: %v", err)
		}
		log.Printf(">> %s: %s", speaker, text)
		time.Sleep(*delay)
	}

	// Let the last suggestion land before tearing down.
	time.Sleep(2 * time.Second)

	if *end {
		summary, err := endSession(*server, sessionID)
		if err != nil {
			log.Fatalf("failed to end session: %v", err)
		}
		fmt.Println(summary)
	}
}

func loadScript(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func parseLine(line string) (speaker, text string, ok bool) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	speaker = strings.TrimSpace(parts[0])
	text = strings.TrimSpace(parts[1])
	if speaker != string(call.SpeakerRep) && speaker != string(call.SpeakerCustomer) {
		return "", "", false
	}
	return speaker, text, text != ""
}

func startSession(server, repID string) (string, error) {
	body, _ := json.Marshal(call.Metadata{RepID: repID, CustomerName: "Simulated Customer"})
	resp, err := http.Post(server+"/api/start-session", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var info call.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	return info.ID, nil
}

func endSession(server, sessionID string) (string, error) {
	resp, err := http.Post(server+"/api/end-session/"+sessionID, "application/json", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var pretty bytes.Buffer
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", err
	}
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw), nil
	}
	return pretty.String(), nil
}

func dial(url string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("failed to dial %s: %v", url, err)
	}
	return conn
}

func printEvents(label string, conn *websocket.Conn) {
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		data, _ := json.Marshal(msg)
		log.Printf("<< [%s] %s", label, data)
	}
}
