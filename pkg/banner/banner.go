package banner

import "fmt"

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ███████║███████║   ██║   ███████╗ ╚████╔╝ ██║╚██╗ ██║██║
██║     ██╔══██║██╔══██║   ██║   ╚════██║  ╚██╔╝  ██║ ██║╚██║██║
╚██████╗██║  ██║██║  ██║   ██║   ███████║   ██║   ██║  ╚████║╚██████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝   ╚═╝   ╚═╝   ╚═══╝ ╚═════╝
`

// Print writes the startup banner and runtime summary to stdout.
func Print(debugAddr, backendURL, cachePath, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Debug:    %s\n", debugAddr)
	if backendURL != "" {
		fmt.Printf("Backend:  %s\n", backendURL)
	}
	if cachePath != "" {
		fmt.Printf("Cache:    %s\n", cachePath)
	}
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Println("===============================================================")
}
