package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Skufu/postop-risk/internal/errorx"
)

// ExportPath is the collective dataset endpoint relative to the base URL.
const ExportPath = "/api/collective-intelligence/export-dataset"

// Export is the response envelope of the collective dataset endpoint.
type Export struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Error   string         `json:"error"`
	Dataset *ExportDataset `json:"dataset"`
	Stats   map[string]any `json:"stats"`
}

type ExportDataset struct {
	TotalPatients  int             `json:"totalPatients"`
	TotalSurgeries int             `json:"totalSurgeries"`
	TotalFollowUps int             `json:"totalFollowUps"`
	Patients       []ExportPatient `json:"patients"`
}

// ExportPatient is a pseudonymized patient with its surgeries and
// follow-ups.
type ExportPatient struct {
	Age           *int             `json:"age"`
	Sex           string           `json:"sex"`
	Comorbidities []string         `json:"comorbidities"`
	Surgeries     []ExportSurgery  `json:"surgeries"`
	FollowUps     []ExportFollowUp `json:"followUps"`
}

type ExportSurgery struct {
	Type            string   `json:"type"`
	DurationMinutes *float64 `json:"durationMinutes"`
	PudendalBlock   bool     `json:"pudendalBlock"`

	// FollowUps is set by exports that nest follow-ups under surgeries.
	FollowUps []ExportFollowUp `json:"followUps"`
}

type ExportFollowUp struct {
	Day              *int     `json:"day"`
	DayNumber        *int     `json:"dayNumber"`
	PainLevel        *float64 `json:"painLevel"`
	UrinaryRetention bool     `json:"urinaryRetention"`
	Fever            bool     `json:"fever"`
	Bleeding         bool     `json:"bleeding"`
	HasComplications *bool    `json:"hasComplications"`
	RiskLevel        string   `json:"riskLevel"`
}

// DayOf returns the post-operative day of the follow-up, or -1.
func (f ExportFollowUp) DayOf() int {
	switch {
	case f.DayNumber != nil:
		return *f.DayNumber
	case f.Day != nil:
		return *f.Day
	default:
		return -1
	}
}

// Complicated reports the outcome label. Exports without an explicit flag
// fall back to a high or critical risk level.
func (f ExportFollowUp) Complicated() bool {
	if f.HasComplications != nil {
		return *f.HasComplications
	}
	return f.RiskLevel == "high" || f.RiskLevel == "critical"
}

// CollectiveClient downloads the pseudonymized multi-practice dataset.
type CollectiveClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

func NewCollectiveClient(baseURL, apiKey string, logger *zap.Logger) *CollectiveClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollectiveClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

// Fetch downloads the export envelope. A response without success is a
// data error carrying the server's message.
func (c *CollectiveClient) Fetch(ctx context.Context) (*Export, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+ExportPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build export request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch collective dataset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch collective dataset: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var export Export
	if err := json.NewDecoder(resp.Body).Decode(&export); err != nil {
		return nil, fmt.Errorf("decode collective dataset: %w", err)
	}
	if !export.Success {
		msg := export.Message
		if msg == "" {
			msg = export.Error
		}
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("%w: collective export failed: %s", errorx.ErrData, msg)
	}
	if export.Dataset == nil || len(export.Dataset.Patients) == 0 {
		return nil, fmt.Errorf("%w: collective export has no patients", errorx.ErrData)
	}

	c.logger.Info("collective dataset fetched",
		zap.Int("patients", export.Dataset.TotalPatients),
		zap.Int("surgeries", export.Dataset.TotalSurgeries),
		zap.Int("follow_ups", export.Dataset.TotalFollowUps),
		zap.Any("stats", export.Stats),
	)
	return &export, nil
}

// FetchFrame downloads the export and flattens it.
func (c *CollectiveClient) FetchFrame(ctx context.Context) (*Frame, error) {
	export, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	frame := Flatten(export.Dataset)
	if frame.Len() == 0 {
		return nil, fmt.Errorf("%w: collective export has no usable day-1 rows", errorx.ErrData)
	}
	c.logger.Info("collective dataset flattened", zap.Int("rows", frame.Len()))
	return frame, nil
}

// Flatten emits one row per surgery and day-1 follow-up. Follow-ups nested
// under a surgery take precedence over the patient's list. Rows without an
// age, a surgery type or a day-1 pain level are dropped.
func Flatten(ds *ExportDataset) *Frame {
	frame := NewFrame(Columns())
	if ds == nil {
		return frame
	}
	for _, p := range ds.Patients {
		if p.Age == nil {
			continue
		}
		comorbidities := strings.Join(p.Comorbidities, ",")
		for _, s := range p.Surgeries {
			if s.Type == "" {
				continue
			}
			followUps := p.FollowUps
			if len(s.FollowUps) > 0 {
				followUps = s.FollowUps
			}
			for _, f := range followUps {
				if f.DayOf() != 1 || f.PainLevel == nil {
					continue
				}
				row := Row{
					ColAge:              *p.Age,
					ColSex:              p.Sex,
					ColComorbidities:    comorbidities,
					ColSurgeryType:      s.Type,
					ColPudendalBlock:    binary(s.PudendalBlock),
					ColPainD1:           *f.PainLevel,
					ColUrinaryRetention: binary(f.UrinaryRetention),
					ColFever:            binary(f.Fever),
					ColIntenseBleeding:  binary(f.Bleeding),
					LabelColumn:         binary(f.Complicated()),
				}
				if s.DurationMinutes != nil {
					row[ColDurationMinutes] = *s.DurationMinutes
				}
				frame.Rows = append(frame.Rows, row)
			}
		}
	}
	return frame
}

func binary(b bool) int {
	if b {
		return 1
	}
	return 0
}
