// Package models defines the request and response bodies of the PiDogd HTTP API.
package models

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/BTreeMap/PiDogd/internal/behavior"
)

// Validation constants for input validation
const (
	// MaxSpeed is the fastest servo speed a request may ask for. Zero means the default speed.
	MaxSpeed = 100
	// MaxSteps bounds how many times one request may repeat an action.
	MaxSteps = 20
	// MaxHeadAngle bounds each head axis in degrees.
	MaxHeadAngle = 90
	// MaxNameLength bounds action and behavior identifiers.
	MaxNameLength = 64
)

// Error variables for better error handling and testability
var (
	ErrEmptyActionName   = errors.New("action name is required")
	ErrEmptyBehaviorName = errors.New("behavior name is required")
	ErrNameTooLong       = errors.New("name exceeds maximum length")
	ErrInvalidSpeed      = errors.New("speed must be between 0 and 100")
	ErrInvalidSteps      = errors.New("steps must be between 0 and 20")
	ErrInvalidDirection  = errors.New("invalid move direction")
	ErrHeadOutOfRange    = errors.New("head angle out of range")
)

// MoveDirection is a locomotion command accepted by /move.
type MoveDirection string

const (
	MoveForward   MoveDirection = "forward"
	MoveBackward  MoveDirection = "backward"
	MoveTurnLeft  MoveDirection = "turn_left"
	MoveTurnRight MoveDirection = "turn_right"
	MoveTrot      MoveDirection = "trot"
	// MoveStop halts the legs instead of starting a gait.
	MoveStop MoveDirection = "stop"
)

// IsValidMoveDirection checks if the given direction is supported.
func IsValidMoveDirection(d MoveDirection) bool {
	switch d {
	case MoveForward, MoveBackward, MoveTurnLeft, MoveTurnRight, MoveTrot, MoveStop:
		return true
	default:
		return false
	}
}

func validateSpeedSteps(speed, steps int) error {
	if speed < 0 || speed > MaxSpeed {
		return ErrInvalidSpeed
	}
	if steps < 0 || steps > MaxSteps {
		return ErrInvalidSteps
	}
	return nil
}

// ActionRequest runs one named action from the robot's action library.
type ActionRequest struct {
	Name  string `json:"name"`
	Speed int    `json:"speed,omitempty"` // 0 means the default action speed
	Steps int    `json:"steps,omitempty"` // 0 means once
}

// Validate checks the action request.
func (r *ActionRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return ErrEmptyActionName
	}
	if len(r.Name) > MaxNameLength {
		return ErrNameTooLong
	}
	return validateSpeedSteps(r.Speed, r.Steps)
}

// MoveRequest starts or stops a gait.
type MoveRequest struct {
	Direction MoveDirection `json:"direction"`
	Speed     int           `json:"speed,omitempty"`
	Steps     int           `json:"steps,omitempty"`
}

// Validate checks the move request.
func (r *MoveRequest) Validate() error {
	r.Direction = MoveDirection(strings.ToLower(strings.TrimSpace(string(r.Direction))))
	if !IsValidMoveDirection(r.Direction) {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, r.Direction)
	}
	return validateSpeedSteps(r.Speed, r.Steps)
}

// HeadRequest moves the head to an absolute pose, discarding queued head moves.
type HeadRequest struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Speed int     `json:"speed,omitempty"`
}

// Validate checks the head request.
func (r *HeadRequest) Validate() error {
	for _, v := range []float64{r.Yaw, r.Pitch, r.Roll} {
		if math.IsNaN(v) || math.Abs(v) > MaxHeadAngle {
			return ErrHeadOutOfRange
		}
	}
	if r.Speed < 0 || r.Speed > MaxSpeed {
		return ErrInvalidSpeed
	}
	return nil
}

// BehaviorRequest names a behavior to start. Free-form names are matched by keyword.
type BehaviorRequest struct {
	Name string `json:"name"`
}

// Validate checks the behavior request.
func (r *BehaviorRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return ErrEmptyBehaviorName
	}
	if len(r.Name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	DogInitialized bool            `json:"dog_initialized"`
	Camera         string          `json:"camera"`
	Behavior       behavior.Status `json:"behavior"`
}

// BehaviorInfo describes one startable behavior.
type BehaviorInfo struct {
	Name        string   `json:"name"`
	Keywords    []string `json:"keywords,omitempty"`
	Description string   `json:"description,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
