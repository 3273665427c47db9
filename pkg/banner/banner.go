package banner

import "fmt"

const banner = `
 ██████╗ ██████╗ ██╗   ██╗██████╗ ██╗███████╗██████╗
██╔════╝██╔═══██╗██║   ██║██╔══██╗██║██╔════╝██╔══██╗
██║     ██║   ██║██║   ██║██████╔╝██║█████╗  ██████╔╝
██║     ██║   ██║██║   ██║██╔══██╗██║██╔══╝  ██╔══██╗
╚██████╗╚██████╔╝╚██████╔╝██║  ██║██║███████╗██║  ██║
 ╚═════╝ ╚═════╝  ╚═════╝ ╚═╝  ╚═╝╚═╝╚══════╝╚═╝  ╚═╝
`

// Print writes the startup banner with the effective runtime settings.
func Print(addr, dbPath, blobDir, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", addr)
	fmt.Printf("DB Path:   %s\n", dbPath)
	fmt.Printf("Blob Dir:  %s\n", blobDir)
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/threads                      - Open (or return) the thread with a provider")
	fmt.Println("GET  /v1/threads                      - Inbox with unread counts and previews")
	fmt.Println("POST /v1/threads/{id}/messages        - Send a message (idempotent via client_request_id)")
	fmt.Println("GET  /v1/threads/{id}/messages        - Poll messages after a cursor")
	fmt.Println("POST /v1/threads/{id}/read            - Advance the read cursor")
	fmt.Println("\n== Identity ===================================================")
	fmt.Println("Requests carry X-User-ID and X-Role-Name headers (trusted edge)")
}
