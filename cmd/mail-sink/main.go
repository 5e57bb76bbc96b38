// Command mail-sink is a local relay for the webhook notification transport.
// It accepts POST /messages and logs or stores what it receives.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/Clark-Hu/institution-ratings/internal/notify"
)

func main() {
	var (
		port    = flag.String("port", "9099", "port to listen on")
		apiKey  = flag.String("api-key", "", "required X-API-Key value (empty disables the check)")
		outPath = flag.String("out", "", "append received messages as JSON lines to this file")
		verbose = flag.Bool("log", false, "log message bodies")
	)
	flag.Parse()

	var (
		mu  sync.Mutex
		out *os.File
	)
	if *outPath != "" {
		f, err := os.OpenFile(*outPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("open output file: %v", err)
		}
		defer f.Close()
		out = f
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		if *apiKey != "" && r.Header.Get("X-API-Key") != *apiKey {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		var msg notify.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		log.Printf("mail-sink: %q to %s", msg.Subject, strings.Join(msg.To, ", "))
		if *verbose {
			log.Printf("mail-sink: body %s", msg.HTML)
		}
		if out != nil {
			mu.Lock()
			err := json.NewEncoder(out).Encode(msg)
			mu.Unlock()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		w.WriteHeader(http.StatusAccepted)
	})

	addr := ":" + *port
	log.Printf("mail-sink listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
