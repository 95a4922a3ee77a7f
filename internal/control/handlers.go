package control

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"futuresagent/internal/cycle"
	"futuresagent/internal/store"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

// getIndex is a self-describing endpoint catalog for operator tooling that
// wants to discover the surface without reading documentation.
func (s *Server) getIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"endpoints": []string{
			"GET /api/index",
			"GET /api/account",
			"GET /api/account/history",
			"GET /api/decisions",
			"GET /api/positions",
			"GET /api/status",
			"GET /api/stats",
			"GET /api/bot/status",
			"POST /api/bot/start",
			"POST /api/bot/pause",
			"POST /api/bot/resume",
			"POST /api/bot/stop",
			"GET /api/user_input",
			"POST /api/user_input",
			"DELETE /api/user_input",
			"POST /api/upload_image",
			"GET /api/prompt_presets",
			"GET /api/prompt_presets/active",
			"POST /api/prompt_presets/active",
			"GET /api/prompt_presets/preview/:name",
			"GET /api/prompt_presets/sample_user_prompt",
			"GET /api/bot_config",
			"POST /api/bot_config",
			"GET /api/database/status",
			"POST /api/database/reset",
			"GET /api/debug/database",
			"GET /ws",
		},
		"mode": s.Mode,
	})
}

// getAccount returns a live exchange query in live mode, otherwise the
// latest Store snapshot. The optional network query param is accepted for
// forward compatibility with multi-network live venues but is not
// interpreted today — one LiveAdapter is wired per process.
func (s *Server) getAccount(c *gin.Context) {
	ctx := c.Request.Context()
	if s.Mode == "live" && s.Adapter != nil {
		account, err := s.Adapter.AccountState(ctx)
		if err != nil {
			respondError(c, http.StatusBadGateway, err)
			return
		}
		c.JSON(http.StatusOK, account)
		return
	}

	snap, err := s.Store.LatestAccountSnapshot(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if snap == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getAccountHistory(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	history, err := s.Store.AccountHistory(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (s *Server) getDecisions(c *gin.Context) {
	ctx := c.Request.Context()
	limit := queryInt(c, "limit", 50)
	coin := c.Query("coin")

	var decisions []store.DecisionWithPosition
	var err error
	if coin != "" {
		decisions, err = s.Store.DecisionsByCoin(ctx, coin, limit)
	} else {
		decisions, err = s.Store.RecentDecisions(ctx, limit)
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	status, _ := s.Store.Status(ctx)
	c.JSON(http.StatusOK, gin.H{
		"decisions":      decisions,
		"total_count":    status.Decisions,
		"returned_count": len(decisions),
	})
}

// getPositions serves open/closed/all positions. In live mode with
// status=open, it queries the exchange directly and merges entry_time from
// the Store by coin, since the exchange itself does not track entry time.
func (s *Server) getPositions(c *gin.Context) {
	ctx := c.Request.Context()
	status := c.DefaultQuery("status", "open")
	limit := queryInt(c, "limit", 100)

	if status == "open" && s.Mode == "live" && s.Adapter != nil {
		account, err := s.Adapter.AccountState(ctx)
		if err != nil {
			respondError(c, http.StatusBadGateway, err)
			return
		}
		stored, _ := s.Store.OpenPositions(ctx)
		entryTimes := make(map[string]time.Time, len(stored))
		for _, p := range stored {
			entryTimes[p.Coin] = p.EntryTime
		}
		type livePosition struct {
			Coin          string     `json:"coin"`
			Side          string     `json:"side"`
			EntryPrice    float64    `json:"entry_price"`
			QuantityUSD   float64    `json:"quantity_usd"`
			Leverage      float64    `json:"leverage"`
			UnrealizedPnL float64    `json:"unrealized_pnl"`
			EntryTime     *time.Time `json:"entry_time,omitempty"`
		}
		out := make([]livePosition, 0, len(account.Positions))
		for _, p := range account.Positions {
			lp := livePosition{Coin: p.Coin, Side: p.Side, EntryPrice: p.EntryPrice, QuantityUSD: p.QuantityUSD, Leverage: p.Leverage, UnrealizedPnL: p.UnrealizedPnL}
			if t, ok := entryTimes[p.Coin]; ok {
				lp.EntryTime = &t
			}
			out = append(out, lp)
		}
		c.JSON(http.StatusOK, gin.H{"positions": out})
		return
	}

	var positions []store.Position
	var err error
	switch status {
	case "open":
		positions, err = s.Store.OpenPositions(ctx)
	case "closed":
		positions, err = s.Store.ClosedPositions(ctx, limit)
	default:
		positions, err = s.Store.AllPositions(ctx, limit)
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

// getStatus surfaces the latest StatusEvent, most recent Decision, and a
// short risk summary — exactly the three things the operator dashboard needs
// per cycle, per the error-handling design's "no silent failures" rule.
func (s *Server) getStatus(c *gin.Context) {
	ctx := c.Request.Context()
	statuses, _ := s.Store.RecentStatus(ctx, 1)
	decisions, _ := s.Store.RecentDecisions(ctx, 1)
	dailyPnL, _ := s.Store.DailyRealizedPnL(ctx, time.Now().UTC())

	resp := gin.H{"daily_realized_pnl": dailyPnL}
	if len(statuses) > 0 {
		resp["latest_status"] = statuses[0]
	}
	if len(decisions) > 0 {
		resp["latest_decision"] = decisions[0]
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getStats(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) getBotStatus(c *gin.Context) {
	ctx := c.Request.Context()
	settings, err := cycle.LoadSettings(ctx, s.Store)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	next, _, _ := cycle.NextCycleTime(ctx, s.Store)

	c.JSON(http.StatusOK, gin.H{
		"state":                   string(s.Token.Read()),
		"is_process_running":      s.isProcessRunning(),
		"cycle_interval_seconds":  int(settings.Interval.Seconds()),
		"next_cycle_time":         next.UTC().Format(time.RFC3339),
	})
}

func (s *Server) postBotStart(c *gin.Context) {
	if err := s.Token.Start(); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	s.ensureEngineRunning()
	c.JSON(http.StatusOK, gin.H{"success": true, "state": string(cycle.StateRunning)})
}

func (s *Server) postBotPause(c *gin.Context) {
	if err := s.Token.Pause(); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "state": string(cycle.StatePaused)})
}

func (s *Server) postBotResume(c *gin.Context) {
	if !s.isProcessRunning() {
		respondError(c, http.StatusConflict, fmt.Errorf("control: cycle process is not running"))
		return
	}
	if err := s.Token.Resume(); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "state": string(cycle.StateRunning)})
}

func (s *Server) postBotStop(c *gin.Context) {
	if err := s.Token.Stop(); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "state": string(cycle.StateStopped)})
}

func (s *Server) getUserInput(c *gin.Context) {
	input, err := s.Store.GetActiveOperatorInput(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if input == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, input)
}

// postUserInput saves operator guidance. An interrupt-type message also runs
// an immediate, Ledger-untouched direct-query against the LLM and returns
// its answer inline, per the design note modelling interrupts as an
// out-of-band async task.
func (s *Server) postUserInput(c *gin.Context) {
	var req struct {
		Message     string `json:"message"`
		MessageType string `json:"message_type"`
		ImagePath   string `json:"image_path"`
	}
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Errorf("control: invalid request payload"))
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		respondError(c, http.StatusBadRequest, fmt.Errorf("control: message is required"))
		return
	}
	if req.MessageType != "cycle" && req.MessageType != "interrupt" {
		respondError(c, http.StatusBadRequest, fmt.Errorf("control: message_type must be \"cycle\" or \"interrupt\""))
		return
	}

	ctx := c.Request.Context()
	if _, err := s.Store.SaveOperatorInput(ctx, req.Message, req.MessageType, req.ImagePath); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	if req.MessageType != "interrupt" {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	if s.Completer == nil || s.PromptBuild == nil {
		respondError(c, http.StatusServiceUnavailable, fmt.Errorf("control: direct-query path not configured"))
		return
	}
	systemPrompt, err := s.PromptBuild.BuildSystemPrompt()
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	answer, err := s.Completer.Complete(ctx, systemPrompt, req.Message)
	if err != nil {
		respondError(c, http.StatusBadGateway, err)
		return
	}
	_ = s.Store.AppendStatus(ctx, "direct_query", answer, "")
	c.JSON(http.StatusOK, gin.H{"success": true, "response": answer})
}

func (s *Server) deleteUserInput(c *gin.Context) {
	ctx := c.Request.Context()
	active, err := s.Store.GetActiveOperatorInput(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if active == nil {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	if err := s.Store.ArchiveOperatorInput(ctx, active.ID); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

var allowedImageExt = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}

const maxUploadBytes = 16 << 20

// postUploadImage accepts a single multipart "image" field and stores it
// under UploadDir with a timestamp prefix so operator screenshots never
// collide.
func (s *Server) postUploadImage(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		respondError(c, http.StatusBadRequest, fmt.Errorf("control: image field is required"))
		return
	}
	defer file.Close()

	if header.Size > maxUploadBytes {
		respondError(c, http.StatusBadRequest, fmt.Errorf("control: image exceeds 16MB"))
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedImageExt[ext] {
		respondError(c, http.StatusBadRequest, fmt.Errorf("control: unsupported image type %q", ext))
		return
	}

	if err := os.MkdirAll(s.UploadDir, 0o755); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	name := fmt.Sprintf("%d%s", time.Now().UnixNano(), ext)
	dest := filepath.Join(s.UploadDir, name)

	out, err := os.Create(dest)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	defer out.Close()

	if _, err := io.CopyN(out, file, header.Size); err != nil && err != io.EOF {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"path": dest})
}

func (s *Server) getPromptPresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"presets": s.PromptBuild.ListPresets()})
}

func (s *Server) getActivePreset(c *gin.Context) {
	ctx := c.Request.Context()
	settings, err := cycle.LoadSettings(ctx, s.Store)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	preset, err := s.PromptBuild.RenderPreset(settings.PresetName)
	if err != nil {
		respondError(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, preset)
}

func (s *Server) postActivePreset(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Errorf("control: invalid request payload"))
		return
	}
	ctx := c.Request.Context()
	if err := cycle.ApplyConfigValue(ctx, s.Store, cycle.KeyPresetName, req.Name); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "name": req.Name})
}

func (s *Server) getPresetPreview(c *gin.Context) {
	preset, err := s.PromptBuild.RenderPreset(c.Param("name"))
	if err != nil {
		respondError(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, preset)
}

func (s *Server) getSampleUserPrompt(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sample": s.PromptBuild.SampleUserPrompt()})
}

// configFields maps the external bot_config field names (§6.7) to the
// internal setting keys LoadSettings/ApplyConfigValue operate on.
var configFields = []struct {
	external string
	internal string
}{
	{"prompt_preset", cycle.KeyPresetName},
	{"min_margin_usd", cycle.KeyMinMarginUSD},
	{"min_balance_threshold", cycle.KeyMinBalanceUSD},
	{"max_margin_usd", cycle.KeyMaxMarginUSD},
	{"execution_interval_seconds", cycle.KeyIntervalSeconds},
	{"max_open_positions", cycle.KeyMaxOpenPositions},
	{"primary_coin", cycle.KeyPrimaryCoin},
}

func (s *Server) getBotConfig(c *gin.Context) {
	ctx := c.Request.Context()
	settings, err := cycle.LoadSettings(ctx, s.Store)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	next, _, _ := cycle.NextCycleTime(ctx, s.Store)

	c.JSON(http.StatusOK, gin.H{
		"prompt_preset":               settings.PresetName,
		"min_margin_usd":              settings.MinMarginUSD,
		"min_balance_threshold":       settings.MinBalanceThresholdUSD,
		"max_margin_usd":              settings.MaxMarginUSD,
		"execution_interval_seconds":  int(settings.Interval.Seconds()),
		"max_open_positions":          settings.MaxOpenPositions,
		"primary_coin":                settings.PrimaryCoin,
		"next_cycle_time":             next.UTC().Format(time.RFC3339),
	})
}

// postBotConfig validates and persists every recognized field present in the
// request body; an unknown field or an out-of-range value for a recognized
// field fails the whole request, leaving every setting untouched.
func (s *Server) postBotConfig(c *gin.Context) {
	var req map[string]any
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Errorf("control: invalid request payload"))
		return
	}

	internal := make(map[string]string, len(req))
	for key, value := range req {
		mapped := ""
		for _, f := range configFields {
			if f.external == key {
				mapped = f.internal
				break
			}
		}
		if mapped == "" {
			respondError(c, http.StatusBadRequest, fmt.Errorf("control: unknown bot_config field %q", key))
			return
		}
		internal[mapped] = fmt.Sprintf("%v", value)
	}

	ctx := c.Request.Context()
	for internalKey, value := range internal {
		if err := cycle.ApplyConfigValue(ctx, s.Store, internalKey, value); err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) getDatabaseStatus(c *gin.Context) {
	ctx := c.Request.Context()
	status, err := s.Store.Status(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	resp := gin.H{"status": status, "mode": s.Mode}
	if path := s.Store.Path(); path != "" {
		resp["path"] = path
		if info, err := os.Stat(path); err == nil {
			resp["size_bytes"] = info.Size()
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) postDatabaseReset(c *gin.Context) {
	preserveSchema := c.DefaultQuery("preserve_schema", "true") == "true"
	if err := s.Store.Reset(c.Request.Context(), preserveSchema); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "preserve_schema": preserveSchema})
}

func (s *Server) getDebugDatabase(c *gin.Context) {
	table := c.Query("table")
	limit := queryInt(c, "limit", 50)
	rows, err := s.Store.DebugQuery(c.Request.Context(), table, limit)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"table": table, "rows": rows})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
