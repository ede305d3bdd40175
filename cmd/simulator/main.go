package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/auth"
	"github.com/ph0en1x29/FT-sub001/internal/models"
	"github.com/ph0en1x29/FT-sub001/internal/readings"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var assetTypes = []models.AssetType{models.AssetDiesel, models.AssetElectric, models.AssetLPG, models.AssetPetrol}

// Anomaly is a deliberately bad reading the simulator injects.
type Anomaly string

const (
	AnomalyNone       Anomaly = ""
	AnomalyRegression Anomaly = "regression"
	AnomalyJump       Anomaly = "jump"
)

// Forklift is the simulator's view of one asset.
type Forklift struct {
	ID          primitive.ObjectID
	Name        string
	Type        models.AssetType
	Hourmeter   float64
	Utilization float64 // share of wall-clock time the engine runs
	LastReading time.Time
}

// Simulator drives the reading API with a fleet of forklifts.
type Simulator struct {
	apiURL      string
	token       string
	client      *http.Client
	anomalyRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

func newSimulator(apiURL, token string, anomalyRate float64, seed int64) *Simulator {
	return &Simulator{
		apiURL:      apiURL,
		token:       token,
		client:      &http.Client{Timeout: 10 * time.Second},
		anomalyRate: anomalyRate,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// do sends v as JSON and decodes the response into out when out is non-nil.
func (s *Simulator) do(ctx context.Context, method, path string, v, out interface{}) (int, error) {
	var body bytes.Buffer
	if v != nil {
		if err := json.NewEncoder(&body).Encode(v); err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.apiURL+path, &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// ensurePolicies creates a default hour and calendar policy per asset type
// when the engine has none.
func (s *Simulator) ensurePolicies(ctx context.Context) error {
	var existing []models.ServiceIntervalPolicy
	status, err := s.do(ctx, http.MethodGet, "/policies", nil, &existing)
	if err != nil {
		return fmt.Errorf("failed to list policies: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("policy listing failed with status: %d", status)
	}
	if len(existing) > 0 {
		return nil
	}

	for _, t := range assetTypes {
		for _, p := range []models.ServiceIntervalPolicy{
			{AssetType: t, Name: "500h service", HourmeterInterval: 500, Priority: 1},
			{AssetType: t, Name: "annual inspection", CalendarIntervalDays: 365, Priority: 2},
		} {
			status, err := s.do(ctx, http.MethodPost, "/policies", p, nil)
			if err != nil {
				return fmt.Errorf("failed to create policy: %w", err)
			}
			if status != http.StatusCreated {
				return fmt.Errorf("policy creation failed with status: %d", status)
			}
		}
	}
	log.WithField("types", len(assetTypes)).Info("Created default service policies")
	return nil
}

func (s *Simulator) createForklift(ctx context.Context, n int) (*Forklift, error) {
	hourmeter := math.Round(s.float()*3000*10) / 10
	serviced := math.Max(0, hourmeter-float64(s.intn(600)))
	asset := models.Asset{
		Name:                  fmt.Sprintf("FL-%03d", n),
		Type:                  assetTypes[s.intn(len(assetTypes))],
		CurrentHourmeter:      hourmeter,
		LastServicedHourmeter: serviced,
	}

	var created models.Asset
	status, err := s.do(ctx, http.MethodPost, "/assets", asset, &created)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("asset creation failed with status: %d", status)
	}

	f := &Forklift{
		ID:          created.ID,
		Name:        created.Name,
		Type:        created.Type,
		Hourmeter:   created.CurrentHourmeter,
		Utilization: 0.3 + s.float()*0.6,
		LastReading: time.Now(),
	}
	log.WithFields(log.Fields{
		"asset_id":  f.ID.Hex(),
		"name":      f.Name,
		"type":      f.Type,
		"hourmeter": f.Hourmeter,
	}).Info("Created forklift")
	return f, nil
}

// nextReading returns the value to report at now. Engine hours accrue with
// wall-clock time at the forklift's utilization, so clean readings stay
// within any per-day ceiling.
func (s *Simulator) nextReading(f *Forklift, now time.Time) (float64, Anomaly) {
	value := f.Hourmeter + now.Sub(f.LastReading).Hours()*f.Utilization
	value = math.Round(value*100) / 100

	if s.float() >= s.anomalyRate {
		return value, AnomalyNone
	}
	if s.intn(2) == 0 {
		return math.Max(0, f.Hourmeter-5-float64(s.intn(45))), AnomalyRegression
	}
	return f.Hourmeter + 600 + float64(s.intn(300)), AnomalyJump
}

// sendReading submits a reading and reports whether the engine accepted it.
func (s *Simulator) sendReading(ctx context.Context, f *Forklift, value float64, at time.Time) (bool, error) {
	req := readings.SubmitRequest{AssetID: f.ID, Value: value, RecordedAt: at}
	var res readings.SubmitResult
	status, err := s.do(ctx, http.MethodPost, "/readings", req, &res)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusCreated, http.StatusAccepted:
		return res.Accepted, nil
	default:
		return false, fmt.Errorf("reading rejected with status: %d", status)
	}
}

func (s *Simulator) tick(ctx context.Context, f *Forklift) {
	now := time.Now()
	value, anomaly := s.nextReading(f, now)

	accepted, err := s.sendReading(ctx, f, value, now)
	entry := log.WithFields(log.Fields{
		"asset_id": f.ID.Hex(),
		"value":    value,
		"anomaly":  anomaly,
	})
	if err != nil {
		entry.WithError(err).Error("Failed to send reading")
		return
	}
	if accepted {
		f.Hourmeter = value
		f.LastReading = now
		entry.Info("Reading accepted")
		return
	}
	entry.Warn("Reading flagged for review")
}

func (s *Simulator) simulateForklift(ctx context.Context, f *Forklift, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, f)
		}
	}
}

// simulatorToken returns SIM_AUTH_TOKEN, or signs a manager token with
// JWT_SECRET so the simulator can register assets and policies.
func simulatorToken() (string, error) {
	if t := os.Getenv("SIM_AUTH_TOKEN"); t != "" {
		return t, nil
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return "", fmt.Errorf("set SIM_AUTH_TOKEN or JWT_SECRET")
	}
	svc, err := auth.NewService(secret, 24*time.Hour)
	if err != nil {
		return "", err
	}
	return svc.GenerateToken(&models.User{ID: primitive.NewObjectID(), Username: "simulator", Role: models.RoleManager})
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			return f
		}
	}
	return def
}

func main() {
	fleetSize := envInt("FLEET_SIZE", 10)
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 60)) * time.Second
	anomalyRate := envFloat("SIM_ANOMALY_RATE", 0.05)

	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}

	token, err := simulatorToken()
	if err != nil {
		log.WithError(err).Fatal("No credentials for the API")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"fleet_size":   fleetSize,
		"api_url":      apiURL,
		"interval":     interval,
		"anomaly_rate": anomalyRate,
	}).Info("Starting forklift simulation")

	sim := newSimulator(apiURL, token, anomalyRate, time.Now().UnixNano())
	if err := sim.ensurePolicies(ctx); err != nil {
		log.WithError(err).Fatal("Failed to prepare policies")
	}

	fleet := make([]*Forklift, 0, fleetSize)
	for i := 0; i < fleetSize; i++ {
		f, err := sim.createForklift(ctx, i+1)
		if err != nil {
			log.WithError(err).Error("Failed to create forklift")
			continue
		}
		fleet = append(fleet, f)
	}
	if len(fleet) == 0 {
		log.Fatal("No forklifts created. Ensure the token is valid and the API is reachable.")
	}

	var wg sync.WaitGroup
	for _, f := range fleet {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.simulateForklift(ctx, f, interval)
		}()
	}
	log.WithField("forklifts", len(fleet)).Info("Reading simulation started")
	wg.Wait()
	log.Info("Simulation stopped")
}
