package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const leaderboardSize = 10

// handleStats reports the relay's live shape: registry sizes plus master
// tick timing, the main overload signal.
func (s *Server) handleStats(c echo.Context) error {
	counts := s.hub.Counts()
	tick := s.hub.TickStats()

	return c.JSON(http.StatusOK, map[string]any{
		"viewers":     counts.Viewers,
		"sources":     counts.Sources,
		"connections": s.limiter.Current(),
		"tick": map[string]any{
			"count":   tick.Tick,
			"fps":     tick.FPS,
			"running": tick.Running,
			"last_ms": tick.LastMs,
			"avg_ms":  tick.AvgMs,
		},
	})
}

func (s *Server) handleSlots(c echo.Context) error {
	infos := s.slots.ActiveSlots()
	out := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		out = append(out, map[string]any{
			"index":   info.Index,
			"cols":    info.Cols,
			"rows":    info.Rows,
			"fps":     info.FPS,
			"sprites": len(info.Sprites),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"slots": out})
}

func (s *Server) handleBridges(c echo.Context) error {
	procs := s.bridges.Processes()
	out := make([]map[string]any, 0, len(procs))
	for _, p := range procs {
		out = append(out, map[string]any{
			"game":       p.Game,
			"channel":    p.Channel,
			"pid":        p.PID,
			"started_at": p.StartedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"bridges": out})
}

func (s *Server) handleScores(c echo.Context) error {
	game := c.Param("game")
	entries, err := s.scores.Top(c.Request().Context(), game, leaderboardSize)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"game": game, "scores": entries})
}

// handleSetFps changes the master broadcast rate at runtime.
func (s *Server) handleSetFps(c echo.Context) error {
	var req struct {
		FPS int `json:"fps"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid body"})
	}
	if req.FPS < 1 || req.FPS > 120 {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "fps must be between 1 and 120, got " + strconv.Itoa(req.FPS),
		})
	}
	s.hub.SetFps(req.FPS)
	return c.JSON(http.StatusOK, map[string]any{"fps": req.FPS})
}
