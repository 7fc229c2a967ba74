package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/PiDogd/internal/behavior"
	"github.com/BTreeMap/PiDogd/internal/camera"
	"github.com/BTreeMap/PiDogd/internal/models"
	"github.com/BTreeMap/PiDogd/internal/robot"
)

// healthHandler reports that the process is serving.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "pidogd"}))
}

// statusHandler handles GET /status.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	resp := models.StatusResponse{
		DogInitialized: s.sup != nil,
		Camera:         string(camera.ModeDisabled),
	}
	if s.cam != nil {
		resp.Camera = string(s.cam.Mode())
	}
	if s.sup != nil {
		resp.Behavior = s.sup.Status()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// actionHandler handles POST /action, running one named action.
func (s *Server) actionHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if !allowMethods(w, r, http.MethodPost) {
		return
	}

	var req models.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.actionHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if s.sup == nil {
		writeRobotNotInitialized(w)
		return
	}

	speed := req.Speed
	if speed == 0 {
		speed = robot.DefaultActionSpeed
	}
	steps := max(req.Steps, 1)
	err := s.sup.Direct(func(dog robot.Handle) error {
		return dog.DoAction(req.Name, steps, speed)
	})
	if err != nil {
		writeRobotError(w, "actionHandler", err)
		return
	}
	slog.Info("Server.actionHandler: action issued", "action", req.Name, "steps", steps, "speed", speed)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("action issued", map[string]interface{}{
		"action": req.Name, "steps": steps, "speed": speed,
	}))
}

// moveHandler handles POST /move. The "stop" direction also ends a running behavior.
func (s *Server) moveHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if !allowMethods(w, r, http.MethodPost) {
		return
	}

	var req models.MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.moveHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if s.sup == nil {
		writeRobotNotInitialized(w)
		return
	}

	if req.Direction == models.MoveStop {
		err := s.sup.Direct(func(dog robot.Handle) error { return dog.BodyStop() })
		if errors.Is(err, behavior.ErrBusy) {
			// Stopping the behavior leaves the robot in its safe pose.
			s.sup.Stop()
			err = nil
		}
		if err != nil {
			writeRobotError(w, "moveHandler", err)
			return
		}
		slog.Info("Server.moveHandler: stopped")
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("stopped", nil))
		return
	}

	speed := req.Speed
	if speed == 0 {
		speed = robot.DefaultActionSpeed
	}
	steps := max(req.Steps, 1)
	err := s.sup.Direct(func(dog robot.Handle) error {
		return dog.DoAction(string(req.Direction), steps, speed)
	})
	if err != nil {
		writeRobotError(w, "moveHandler", err)
		return
	}
	slog.Info("Server.moveHandler: move issued", "direction", req.Direction, "steps", steps, "speed", speed)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("move issued", map[string]interface{}{
		"direction": req.Direction, "steps": steps, "speed": speed,
	}))
}

// headHandler handles POST /head, replacing any queued head motion.
func (s *Server) headHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if !allowMethods(w, r, http.MethodPost) {
		return
	}

	var req models.HeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.headHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if s.sup == nil {
		writeRobotNotInitialized(w)
		return
	}

	speed := req.Speed
	if speed == 0 {
		speed = robot.DefaultHeadSpeed
	}
	pose := robot.HeadPose{Yaw: req.Yaw, Roll: req.Roll, Pitch: req.Pitch}
	err := s.sup.Direct(func(dog robot.Handle) error {
		return dog.HeadMove(pose, speed, true)
	})
	if err != nil {
		writeRobotError(w, "headHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("head moved", pose))
}

// behaviorHandler handles /behavior: GET reports, POST starts, DELETE stops.
func (s *Server) behaviorHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.behaviorStatusHandler(w, r)
	case http.MethodPost:
		s.behaviorStartHandler(w, r)
	case http.MethodDelete:
		s.stopBehavior(w)
	default:
		allowMethods(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (s *Server) behaviorStatusHandler(w http.ResponseWriter, r *http.Request) {
	if s.sup == nil {
		writeRobotNotInitialized(w)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.sup.Status()))
}

func (s *Server) behaviorStartHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req models.BehaviorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.behaviorStartHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if s.sup == nil {
		writeRobotNotInitialized(w)
		return
	}

	status, err := s.sup.Start(req.Name)
	if err != nil {
		writeRobotError(w, "behaviorStartHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("behavior started", status))
}

// behaviorStopHandler handles POST /behavior/stop for clients that cannot send DELETE.
func (s *Server) behaviorStopHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	s.stopBehavior(w)
}

func (s *Server) stopBehavior(w http.ResponseWriter) {
	if s.sup == nil {
		writeRobotNotInitialized(w)
		return
	}
	s.sup.Stop()
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("behavior stopped", s.sup.Status()))
}

// behaviorsHandler handles GET /behaviors.
func (s *Server) behaviorsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	entries := s.registry.Entries()
	infos := make([]models.BehaviorInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, models.BehaviorInfo{Name: e.Name, Keywords: e.Keywords, Description: e.Description})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(infos))
}
