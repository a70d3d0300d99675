package status

import "safemesh/internal/app/agent"

// Input — запрос статуса агента
type Input struct{}

// Output — ответ со статусом агента
type Output struct {
	Body Response
}

// Response — текущее состояние агента и его синхронизации
type Response struct {
	DeviceID   string             `json:"device_id" doc:"Stable identifier of this installation"`
	QueueDepth int                `json:"queue_depth" doc:"Number of pending outbound sync entries"`
	LastCycle  *agent.CycleResult `json:"last_cycle,omitempty" doc:"Result of the last completed sync cycle"`
}
