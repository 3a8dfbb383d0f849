package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ClareAI/astra-dialout-service/internal/campaign"
	"github.com/ClareAI/astra-dialout-service/internal/domain"
	"github.com/joho/godotenv"
)

const usage = `dialcli - drive the dial-out service from the command line

Usage:
  dialcli single -phone <number> [-name <name>] [-instructions <text>]
  dialcli bulk -file <contacts.csv|contacts.json> [-delay <seconds>]
  dialcli status -call <call_id>
  dialcli list
  dialcli campaign -id <campaign_id>
  dialcli cancel -id <campaign_id>

The server address is taken from DIALOUT_SERVER_URL (default http://localhost:8080).
Contacts CSV columns: name,phone,company,notes (header row required).
`

type cliClient struct {
	baseURL string
	http    *http.Client
}

func (c *cliClient) do(method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func runSingle(c *cliClient, args []string) error {
	fs := flag.NewFlagSet("single", flag.ExitOnError)
	phone := fs.String("phone", "", "destination phone number (E.164 or national)")
	name := fs.String("name", "", "customer name")
	instructions := fs.String("instructions", "", "custom agent instructions")
	fs.Parse(args)

	if *phone == "" {
		return fmt.Errorf("-phone is required")
	}

	var rec domain.CallRecord
	err := c.do(http.MethodPost, "/call", domain.CallRequest{
		PhoneNumber:        *phone,
		CustomerName:       *name,
		CustomInstructions: *instructions,
	}, &rec)
	if err != nil {
		return err
	}

	fmt.Printf("Call %s placed (status: %s)\n", rec.CallID, rec.Status)
	printJSON(rec)
	return nil
}

func runBulk(c *cliClient, args []string) error {
	fs := flag.NewFlagSet("bulk", flag.ExitOnError)
	file := fs.String("file", "", "recipients file (.csv or .json)")
	delay := fs.Int("delay", 0, "seconds between originations (0 uses the server default)")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	recipients, err := campaign.LoadRecipients(*file)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients with phone numbers in %s", *file)
	}
	fmt.Printf("Loaded %d recipients from %s\n", len(recipients), *file)

	var rec domain.CampaignRecord
	err = c.do(http.MethodPost, "/campaigns", map[string]interface{}{
		"recipients":    recipients,
		"delay_seconds": *delay,
	}, &rec)
	if err != nil {
		return err
	}

	fmt.Printf("Campaign %s started (%d calls planned)\n", rec.CampaignID, rec.TotalPlanned)
	fmt.Printf("Track it with: dialcli campaign -id %s\n", rec.CampaignID)
	return nil
}

func runStatus(c *cliClient, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	callID := fs.String("call", "", "call ID")
	fs.Parse(args)

	if *callID == "" {
		return fmt.Errorf("-call is required")
	}

	var rec domain.CallRecord
	if err := c.do(http.MethodGet, "/call/"+*callID, nil, &rec); err != nil {
		return err
	}
	printJSON(rec)
	return nil
}

func runList(c *cliClient) error {
	var resp struct {
		Total int                  `json:"total"`
		Calls []*domain.CallRecord `json:"calls"`
	}
	if err := c.do(http.MethodGet, "/calls", nil, &resp); err != nil {
		return err
	}

	fmt.Printf("%d calls\n", resp.Total)
	for _, rec := range resp.Calls {
		fmt.Printf("  %s  %-12s  %s\n", rec.CallID, rec.Status, rec.Request.PhoneNumber)
	}
	return nil
}

func runCampaign(c *cliClient, args []string) error {
	fs := flag.NewFlagSet("campaign", flag.ExitOnError)
	id := fs.String("id", "", "campaign ID")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	var resp struct {
		Campaign *domain.CampaignRecord  `json:"campaign"`
		Summary  *domain.CampaignSummary `json:"summary"`
	}
	if err := c.do(http.MethodGet, "/campaigns/"+*id, nil, &resp); err != nil {
		return err
	}
	printJSON(resp)
	return nil
}

func runCancel(c *cliClient, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	id := fs.String("id", "", "campaign ID")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	var rec domain.CampaignRecord
	if err := c.do(http.MethodPost, "/campaigns/"+*id+"/cancel", nil, &rec); err != nil {
		return err
	}
	fmt.Printf("Campaign %s cancelled; in-flight calls will finish\n", rec.CampaignID)
	return nil
}

func main() {
	godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	baseURL := os.Getenv("DIALOUT_SERVER_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	client := &cliClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}

	var err error
	switch os.Args[1] {
	case "single":
		err = runSingle(client, os.Args[2:])
	case "bulk":
		err = runBulk(client, os.Args[2:])
	case "status":
		err = runStatus(client, os.Args[2:])
	case "list":
		err = runList(client)
	case "campaign":
		err = runCampaign(client, os.Args[2:])
	case "cancel":
		err = runCancel(client, os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
