package sos

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/exp/slog"

	"safemesh/internal/geo"
)

// ServiceConfig — пороги жизненного цикла SOS.
type ServiceConfig struct {
	Cooldown          time.Duration
	MaxResponders     int
	Grace             time.Duration
	Stale             time.Duration
	ProximityRadiusM  float64
	ArrivalThresholdM float64
	WalkingSpeedKmh   float64
}

// Service — координатор жизненного цикла SOS: создание и завершение
// запросов, отклики с лимитом вместимости и уведомления о близости.
type Service struct {
	repo Repository
	log  *slog.Logger
	cfg  *ServiceConfig

	// notified/dismissed трекают состояние "устройство уже видело этот SOS"
	// по ключу deviceID|sosID; TTL привязан к stale-окну, так что записи
	// исчезают не позже, чем сам маркер перестает быть активным.
	notified  *gocache.Cache
	dismissed *gocache.Cache

	now func() time.Time
}

// NewService создает координатор SOS.
func NewService(repo Repository, log *slog.Logger, cfg *ServiceConfig) *Service {
	if cfg == nil {
		cfg = &ServiceConfig{
			Cooldown:          10 * time.Minute,
			MaxResponders:     5,
			Grace:             5 * time.Minute,
			Stale:             24 * time.Hour,
			ProximityRadiusM:  500,
			ArrivalThresholdM: 30,
			WalkingSpeedKmh:   5,
		}
	}

	return &Service{
		repo:      repo,
		log:       log.With("component", "sos_coordinator"),
		cfg:       cfg,
		notified:  gocache.New(cfg.Stale, cfg.Stale),
		dismissed: gocache.New(cfg.Stale, cfg.Stale),
		now:       time.Now,
	}
}

// CreateRequest создает SOS запрос от имени устройства. Отклоняет запрос,
// если не прошло cooldown-окно с прошлого создания или у устройства уже
// есть активный запрос (вызывающая сторона может сперва завершить старый).
func (s *Service) CreateRequest(ctx context.Context, deviceID string, loc geo.Point) (*Marker, error) {
	last, err := s.repo.LastSOSCreatedAt(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("last sos creation time: %w", err)
	}
	if last > 0 && geo.Age(s.now(), last) < s.cfg.Cooldown {
		return nil, ErrCooldownActive
	}

	existing, err := s.repo.ActiveSOSByCreator(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("check active sos: %w", err)
	}
	if existing != nil {
		return nil, ErrActiveRequestExists
	}

	m := NewMarker(deviceID, loc)
	if err := s.repo.InsertSOSMarker(ctx, &m); err != nil {
		return nil, fmt.Errorf("insert sos marker: %w", err)
	}

	s.log.Info("sos request created", "sos_id", m.ID, "device_id", deviceID)
	return &m, nil
}

// CompleteRequest завершает SOS запрос. Разрешено только создателю;
// завершение каскадно отменяет все активные отклики в одной транзакции.
func (s *Service) CompleteRequest(ctx context.Context, sosID, deviceID string) error {
	m, err := s.repo.GetSOSMarker(ctx, sosID)
	if err != nil {
		return err
	}
	if m.CreatedBy != deviceID {
		return ErrNotCreator
	}
	if m.Status != StatusActive {
		return ErrNotActive
	}

	completedAt := s.now().UnixMilli()
	expiresAt := s.now().Add(s.cfg.Grace).UnixMilli()
	if err := s.repo.CompleteSOSMarker(ctx, sosID, completedAt, expiresAt); err != nil {
		return fmt.Errorf("complete sos marker: %w", err)
	}

	s.forget(sosID)
	s.log.Info("sos request completed", "sos_id", sosID)
	return nil
}

// RespondTo регистрирует отклик устройства на чужой активный SOS.
func (s *Service) RespondTo(ctx context.Context, sosID, deviceID string, loc geo.Point) (*Response, error) {
	m, err := s.repo.GetSOSMarker(ctx, sosID)
	if err != nil {
		return nil, err
	}
	if m.Status != StatusActive {
		return nil, ErrNotActive
	}

	busy, err := s.repo.ActiveResponseByDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("check active response: %w", err)
	}
	if busy != nil && busy.SOSMarkerID != sosID {
		return nil, ErrResponderBusy
	}
	if busy != nil {
		return nil, ErrAlreadyResponded
	}

	count, err := s.repo.CountActiveResponses(ctx, sosID)
	if err != nil {
		return nil, fmt.Errorf("count responses: %w", err)
	}
	if count >= s.cfg.MaxResponders {
		return nil, ErrCapacityReached
	}

	distance := geo.DistanceM(loc, m.Point())
	now := s.now().UnixMilli()
	r := Response{
		ID:               uuid.NewString(),
		SOSMarkerID:      sosID,
		ResponderDevice:  deviceID,
		CreatedAt:        now,
		UpdatedAt:        now,
		CurrentLatitude:  loc.Lat,
		CurrentLongitude: loc.Lon,
		DistanceMeters:   distance,
		ETAMinutes:       geo.WalkingETA(distance, s.cfg.WalkingSpeedKmh),
		Status:           ResponseActive,
		SyncState:        SyncStateDirty,
	}

	if err := s.repo.InsertSOSResponse(ctx, &r); err != nil {
		return nil, err
	}

	s.log.Info("sos response created",
		"sos_id", sosID, "device_id", deviceID, "distance_m", int(distance))
	return &r, nil
}

// UpdateResponderLocation обновляет позицию отвечающего и пересчитывает
// дистанцию и ETA. Пересечение порога прибытия фиксируется переходом
// в состояние arrived.
func (s *Service) UpdateResponderLocation(ctx context.Context, sosID, deviceID string, loc geo.Point) (*Response, error) {
	r, err := s.repo.GetSOSResponse(ctx, sosID, deviceID)
	if err != nil {
		return nil, err
	}
	if r.Status != ResponseActive {
		return r, nil
	}

	m, err := s.repo.GetSOSMarker(ctx, sosID)
	if err != nil {
		return nil, err
	}

	distance := geo.DistanceM(loc, m.Point())
	r.CurrentLatitude = loc.Lat
	r.CurrentLongitude = loc.Lon
	r.DistanceMeters = distance
	r.ETAMinutes = geo.WalkingETA(distance, s.cfg.WalkingSpeedKmh)
	r.UpdatedAt = s.now().UnixMilli()

	if distance <= s.cfg.ArrivalThresholdM {
		r.Status = ResponseArrived
		s.log.Info("responder arrived", "sos_id", sosID, "device_id", deviceID)
	}

	if err := s.repo.UpdateSOSResponse(ctx, r); err != nil {
		return nil, fmt.Errorf("update response: %w", err)
	}

	return r, nil
}

// CancelResponse отменяет отклик устройства.
func (s *Service) CancelResponse(ctx context.Context, sosID, deviceID string) error {
	r, err := s.repo.GetSOSResponse(ctx, sosID, deviceID)
	if err != nil {
		return err
	}
	if r.Status != ResponseActive {
		return nil
	}

	r.Status = ResponseCancelled
	r.UpdatedAt = s.now().UnixMilli()
	if err := s.repo.UpdateSOSResponse(ctx, r); err != nil {
		return fmt.Errorf("cancel response: %w", err)
	}

	s.log.Info("sos response cancelled", "sos_id", sosID, "device_id", deviceID)
	return nil
}

// Nearby возвращает активные SOS в радиусе близости, которые устройство
// не создавало, на которые не отвечает и которые еще не отклонило.
// Каждый возвращенный маркер помечается как notified для этого устройства.
func (s *Service) Nearby(ctx context.Context, deviceID string, loc geo.Point) ([]Marker, error) {
	markers, err := s.repo.ListActiveSOS(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sos: %w", err)
	}

	var nearby []Marker
	for _, m := range markers {
		if m.CreatedBy == deviceID {
			continue
		}
		if geo.DistanceM(loc, m.Point()) > s.cfg.ProximityRadiusM {
			continue
		}
		if _, dismissed := s.dismissed.Get(stateKey(deviceID, m.ID)); dismissed {
			continue
		}

		if r, err := s.repo.GetSOSResponse(ctx, m.ID, deviceID); err == nil && r.Status == ResponseActive {
			continue
		}

		s.notified.SetDefault(stateKey(deviceID, m.ID), struct{}{})
		nearby = append(nearby, m)
	}

	return nearby, nil
}

// WasNotified сообщает, показывался ли SOS устройству ранее.
func (s *Service) WasNotified(deviceID, sosID string) bool {
	_, ok := s.notified.Get(stateKey(deviceID, sosID))
	return ok
}

// Dismiss скрывает SOS для устройства до тех пор, пока маркер активен.
func (s *Service) Dismiss(deviceID, sosID string) {
	s.dismissed.SetDefault(stateKey(deviceID, sosID), struct{}{})
}

// Cleanup удаляет завершенные маркеры с истекшим grace-окном и брошенные
// активные старше stale-окна. Вызывается по расписанию.
func (s *Service) Cleanup(ctx context.Context) error {
	n, err := s.repo.DeleteExpiredSOS(ctx, s.now().UnixMilli(), s.cfg.Stale.Milliseconds())
	if err != nil {
		return fmt.Errorf("cleanup sos markers: %w", err)
	}
	if n > 0 {
		s.log.Info("expired sos markers removed", "count", n)
	}
	return nil
}

// MarkerGone вызывается движком синхронизации, когда SOS исчез или
// завершился удаленно: чистит notified/dismissed состояние.
func (s *Service) MarkerGone(sosID string) {
	s.forget(sosID)
}

// forget удаляет все notified/dismissed записи, относящиеся к маркеру.
func (s *Service) forget(sosID string) {
	suffix := "|" + sosID
	for key := range s.notified.Items() {
		if len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix {
			s.notified.Delete(key)
		}
	}
	for key := range s.dismissed.Items() {
		if len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix {
			s.dismissed.Delete(key)
		}
	}
}

func stateKey(deviceID, sosID string) string {
	return deviceID + "|" + sosID
}
