// README: Probe cases: environment, request lifecycle over HTTP, accept races and nearby throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"roadside/internal/infra"
	"roadside/internal/types"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	mongo *mongo.Client
	run   string

	// filled by the lifecycle cases, read by later ones
	driverID   string
	mechanicID string
	requestID  string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

type identity struct {
	id   string
	role string
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Count   int             `json:"count"`
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run:   string(types.NewID())[:8],
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}
	if r.cfg.MongoURI != "" {
		if client, err := infra.NewMongo(ctx, r.cfg.MongoURI); err == nil {
			r.mongo = client
		}
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	if r.mongo != nil {
		_ = r.mongo.Disconnect(context.Background())
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: statusFail, Note: "db not configured"}
			}
			return pingResult(ctx, r.db.Ping)
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: statusFail, Note: "redis not configured"}
			}
			return pingResult(ctx, func(ctx context.Context) error { return r.redis.Ping(ctx).Err() })
		}},
		{Name: "Env: MongoDB connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.mongo == nil {
				return Result{Status: statusFail, Note: "mongo not reachable"}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			start := time.Now()
			code, _, err := r.call(ctx, http.MethodGet, "/health", nil, identity{})
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return expect(code, http.StatusOK, time.Since(start))
		}},

		{Name: "Lifecycle: register mechanic", Run: registerFlowMechanic},
		{Name: "Lifecycle: create towing request (price 136)", Run: createFlowRequest},
		{Name: "Lifecycle: nearby shows request without contact details", Run: nearbyRedacted},
		{Name: "Lifecycle: accept", Run: flowStep(http.MethodPatch, "accept", true, nil)},
		{Name: "Lifecycle: accept again -> 400", Run: acceptTwice},
		{Name: "Lifecycle: finish", Run: flowStep(http.MethodPatch, "finish", true, nil)},
		{Name: "Lifecycle: pay", Run: flowStep(http.MethodPatch, "pay", false, map[string]any{"paymentMethod": "Cash"})},
		{Name: "Lifecycle: review", Run: flowStep(http.MethodPatch, "review", false, map[string]any{"rating": 5, "comment": "quick"})},
		{Name: "Lifecycle: review again -> 400", Run: reviewTwice},
		{Name: "Lifecycle: mechanic rating updated", Run: mechanicRated},
		{Name: "Consistency: request_events trail", Run: eventTrail},

		{Name: "Concurrency: many mechanics accept one request", Run: concurrentAccept},
		{Name: "Concurrency: one mechanic over capacity", Run: concurrentCapacity},

		{Name: "Perf: nearby query throughput", Run: func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, "/api/requests/nearby?latitude=40&longitude=-74&distanceInKm=25", identity{id: r.mechanicID, role: infra.RoleMechanic})
		}},
	}
}

func pingResult(ctx context.Context, ping func(context.Context) error) Result {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := ping(ctx); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func expect(got, want int, latency time.Duration) Result {
	if got != want {
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d want %d", got, want)}
	}
	return Result{Status: statusPass, Latency: latency}
}

// call sends a JSON request. With a JWT secret configured it signs a token for
// who; the body always carries the actor id so auth-off servers work too.
func (r *Runner) call(ctx context.Context, method, path string, body any, who identity) (int, envelope, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, envelope{}, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, envelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if who.id != "" && r.cfg.JWTSecret != "" {
		token, err := infra.SignToken(r.cfg.JWTSecret, who.id, who.role, time.Hour)
		if err != nil {
			return 0, envelope{}, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, envelope{}, err
	}
	defer resp.Body.Close()
	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env, nil
}

func (r *Runner) driver() identity { return identity{id: "bench-driver-" + r.run, role: infra.RoleDriver} }

func (r *Runner) registerMechanic(ctx context.Context, name string, lat, lng float64) (string, error) {
	who := identity{id: name + "-" + r.run, role: infra.RoleMechanic}
	code, env, err := r.call(ctx, http.MethodPost, "/api/mechanics", map[string]any{
		"name": name, "phone": "000", "serviceType": "Towing", "latitude": lat, "longitude": lng,
	}, who)
	if err != nil {
		return "", err
	}
	if code != http.StatusCreated {
		return "", fmt.Errorf("register status=%d %s", code, env.Error)
	}
	var m struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(env.Data, &m); err != nil {
		return "", err
	}
	code, env, err = r.call(ctx, http.MethodPatch, "/api/mechanics/"+m.ID+"/availability", map[string]any{"isAvailable": true}, identity{id: m.ID, role: infra.RoleMechanic})
	if err != nil {
		return "", err
	}
	if code != http.StatusOK {
		return "", fmt.Errorf("availability status=%d %s", code, env.Error)
	}
	return m.ID, nil
}

func (r *Runner) createRequest(ctx context.Context, body map[string]any) (string, envelope, error) {
	d := r.driver()
	body["driverId"] = d.id
	body["driverName"] = "Bench Driver"
	body["driverPhone"] = "555-0100"
	body["issue"] = "probe"
	code, env, err := r.call(ctx, http.MethodPost, "/api/requests", body, d)
	if err != nil {
		return "", env, err
	}
	if code != http.StatusCreated {
		return "", env, fmt.Errorf("create status=%d %s", code, env.Error)
	}
	var req struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return "", env, err
	}
	return req.ID, env, nil
}

func registerFlowMechanic(ctx context.Context, r *Runner) Result {
	start := time.Now()
	id, err := r.registerMechanic(ctx, "bench-mech", 40.0, -74.0)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	r.mechanicID = id
	r.driverID = r.driver().id
	return Result{Status: statusPass, Latency: time.Since(start), Note: "mechanic=" + id}
}

func createFlowRequest(ctx context.Context, r *Runner) Result {
	start := time.Now()
	id, env, err := r.createRequest(ctx, map[string]any{
		"latitude": 40.0, "longitude": -74.0, "serviceType": "Towing", "towDestLat": 40.1, "towDestLng": -74.0,
	})
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	r.requestID = id
	var req struct {
		Price    int64   `json:"price"`
		Distance float64 `json:"distance"`
	}
	_ = json.Unmarshal(env.Data, &req)
	if req.Price != 136 {
		return Result{Status: statusFail, Note: fmt.Sprintf("price=%d distance=%.1f", req.Price, req.Distance)}
	}
	return Result{Status: statusPass, Latency: time.Since(start), Note: "request=" + id}
}

func nearbyRedacted(ctx context.Context, r *Runner) Result {
	if r.requestID == "" {
		return Result{Status: statusSkip, Note: "no request created"}
	}
	start := time.Now()
	code, env, err := r.call(ctx, http.MethodGet, "/api/mechanics/"+r.mechanicID+"/requests/nearby", nil, identity{id: r.mechanicID, role: infra.RoleMechanic})
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if code != http.StatusOK {
		return expect(code, http.StatusOK, time.Since(start))
	}
	raw := string(env.Data)
	if !strings.Contains(raw, r.requestID) {
		return Result{Status: statusFail, Note: "request not in nearby list"}
	}
	if strings.Contains(raw, "driverPhone") || strings.Contains(raw, "555-0100") {
		return Result{Status: statusFail, Note: "contact details leaked"}
	}
	return Result{Status: statusPass, Latency: time.Since(start), Note: fmt.Sprintf("count=%d", env.Count)}
}

// flowStep runs one transition on the lifecycle request as the mechanic or the driver.
func flowStep(method, action string, asMechanic bool, extra map[string]any) func(context.Context, *Runner) Result {
	return func(ctx context.Context, r *Runner) Result {
		if r.requestID == "" {
			return Result{Status: statusSkip, Note: "no request created"}
		}
		body := map[string]any{}
		for k, v := range extra {
			body[k] = v
		}
		who := r.driver()
		if asMechanic {
			who = identity{id: r.mechanicID, role: infra.RoleMechanic}
			body["mechanicId"] = r.mechanicID
		} else {
			body["driverId"] = who.id
		}
		start := time.Now()
		code, env, err := r.call(ctx, method, "/api/requests/"+r.requestID+"/"+action, body, who)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		res := expect(code, http.StatusOK, time.Since(start))
		if res.Status == statusFail {
			res.Note += " " + env.Error
		}
		return res
	}
}

func acceptTwice(ctx context.Context, r *Runner) Result {
	if r.requestID == "" {
		return Result{Status: statusSkip, Note: "no request created"}
	}
	other, err := r.registerMechanic(ctx, "bench-late", 40.0, -74.0)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	code, _, err := r.call(ctx, http.MethodPatch, "/api/requests/"+r.requestID+"/accept", map[string]any{"mechanicId": other}, identity{id: other, role: infra.RoleMechanic})
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return expect(code, http.StatusBadRequest, 0)
}

func reviewTwice(ctx context.Context, r *Runner) Result {
	if r.requestID == "" {
		return Result{Status: statusSkip, Note: "no request created"}
	}
	d := r.driver()
	code, _, err := r.call(ctx, http.MethodPatch, "/api/requests/"+r.requestID+"/review", map[string]any{"driverId": d.id, "rating": 1}, d)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return expect(code, http.StatusBadRequest, 0)
}

func mechanicRated(ctx context.Context, r *Runner) Result {
	if r.mechanicID == "" {
		return Result{Status: statusSkip, Note: "no mechanic registered"}
	}
	code, env, err := r.call(ctx, http.MethodGet, "/api/mechanics/"+r.mechanicID, nil, identity{id: r.mechanicID, role: infra.RoleMechanic})
	if err != nil || code != http.StatusOK {
		return Result{Status: statusFail, Note: fmt.Sprintf("status=%d err=%v", code, err)}
	}
	var m struct {
		Rating     float64 `json:"rating"`
		NumReviews int     `json:"numReviews"`
	}
	_ = json.Unmarshal(env.Data, &m)
	if m.NumReviews != 1 || m.Rating != 5 {
		return Result{Status: statusFail, Note: fmt.Sprintf("rating=%.1f reviews=%d", m.Rating, m.NumReviews)}
	}
	return Result{Status: statusPass}
}

func eventTrail(ctx context.Context, r *Runner) Result {
	if r.db == nil || r.requestID == "" {
		return Result{Status: statusSkip, Note: "needs db and a lifecycle request"}
	}
	rows, err := r.db.Query(ctx, `SELECT to_status FROM request_events WHERE request_id = $1 ORDER BY id`, r.requestID)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	defer rows.Close()
	var trail []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		trail = append(trail, s)
	}
	got := strings.Join(trail, ">")
	if got != "PENDING>ACCEPTED>PAYMENT_PENDING>COMPLETED" {
		return Result{Status: statusFail, Note: "trail=" + got}
	}
	return Result{Status: statusPass}
}

// acceptRace fires one accept per (mechanic, request) pair at once and counts 2xx.
func acceptRace(ctx context.Context, r *Runner, pairs [][2]string) (succ, rejected int) {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		start = make(chan struct{})
	)
	for _, p := range pairs {
		wg.Add(1)
		go func(mechanicID, requestID string) {
			defer wg.Done()
			<-start
			code, _, err := r.call(ctx, http.MethodPatch, "/api/requests/"+requestID+"/accept",
				map[string]any{"mechanicId": mechanicID}, identity{id: mechanicID, role: infra.RoleMechanic})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
			case code >= 200 && code < 300:
				succ++
			case code == http.StatusBadRequest:
				rejected++
			}
		}(p[0], p[1])
	}
	close(start)
	wg.Wait()
	return succ, rejected
}

func concurrentAccept(ctx context.Context, r *Runner) Result {
	reqID, _, err := r.createRequest(ctx, map[string]any{"latitude": 40.0, "longitude": -74.0, "serviceType": "Tire"})
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	pairs := make([][2]string, 0, r.cfg.Concurrency)
	for i := 0; i < r.cfg.Concurrency; i++ {
		id, err := r.registerMechanic(ctx, fmt.Sprintf("bench-race-%d", i), 40.0, -74.0)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		pairs = append(pairs, [2]string{id, reqID})
	}

	start := time.Now()
	succ, rejected := acceptRace(ctx, r, pairs)
	note := fmt.Sprintf("success=%d rejected=%d", succ, rejected)
	if succ != 1 || rejected != len(pairs)-1 {
		return Result{Status: statusFail, Latency: time.Since(start), Note: note}
	}
	return Result{Status: statusPass, Latency: time.Since(start), Note: note}
}

func concurrentCapacity(ctx context.Context, r *Runner) Result {
	mechID, err := r.registerMechanic(ctx, "bench-cap", 40.0, -74.0)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	total := r.cfg.MaxActiveJobs + 3
	pairs := make([][2]string, 0, total)
	for i := 0; i < total; i++ {
		reqID, _, err := r.createRequest(ctx, map[string]any{"latitude": 40.0, "longitude": -74.0, "serviceType": "Fuel"})
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		pairs = append(pairs, [2]string{mechID, reqID})
	}

	start := time.Now()
	succ, rejected := acceptRace(ctx, r, pairs)
	note := fmt.Sprintf("success=%d rejected=%d cap=%d", succ, rejected, r.cfg.MaxActiveJobs)
	if succ != r.cfg.MaxActiveJobs {
		return Result{Status: statusFail, Latency: time.Since(start), Note: note}
	}
	return Result{Status: statusPass, Latency: time.Since(start), Note: note}
}

func perfLoad(ctx context.Context, r *Runner, path string, who identity) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		count, errCount int64
		mu              sync.Mutex
		wg              sync.WaitGroup
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				code, _, err := r.call(ctx, http.MethodGet, path, nil, who)
				mu.Lock()
				if err != nil || code != http.StatusOK {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: statusFail, Note: fmt.Sprintf("no requests completed, errors=%d", errCount)}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: statusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	sql, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, s := range splitSQL(string(sql)) {
		if _, err := r.db.Exec(ctx, s); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
	}
	return Result{Status: statusPass}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: statusPass, Note: strings.Join(tables, ",")}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
