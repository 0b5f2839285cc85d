package postgres

import (
	"context"
	"errors"
	"time"

	"foodbridge/internal/models"
	"foodbridge/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const hotelColumns = `hotel_id, identity_id, name, phone, address_line, area, city, state, pincode,
	latitude, longitude, total_food_saved, created_at, updated_at`

const agentColumns = `agent_id, identity_id, name, phone, area, zone, unique_id, is_active,
	latitude, longitude, created_at, updated_at`

func (s *Store) GetRole(ctx context.Context, identityID string) (models.Role, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM profiles WHERE id = $1`, identityID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrProfileNotFound
		}
		return "", err
	}
	return models.Role(role), nil
}

// SetRole records the role chosen at sign-up. An existing different role is
// never overwritten.
func (s *Store) SetRole(ctx context.Context, identityID string, role models.Role) error {
	var stored string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, role) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING role
	`, identityID, string(role)).Scan(&stored)
	if err != nil {
		return err
	}
	if models.Role(stored) != role {
		return store.ErrRoleAlreadySet
	}
	return nil
}

func (s *Store) GetHotel(ctx context.Context, hotelID string) (models.HotelProfile, error) {
	if _, err := uuid.Parse(hotelID); err != nil {
		return models.HotelProfile{}, store.ErrProfileNotFound
	}
	return s.queryHotel(ctx, `SELECT `+hotelColumns+` FROM hotels WHERE hotel_id = $1`, hotelID)
}

func (s *Store) GetHotelByIdentity(ctx context.Context, identityID string) (models.HotelProfile, error) {
	return s.queryHotel(ctx, `SELECT `+hotelColumns+` FROM hotels WHERE identity_id = $1`, identityID)
}

func (s *Store) SaveHotel(ctx context.Context, hotel models.HotelProfile) (models.HotelProfile, error) {
	now := time.Now().UTC()
	return s.queryHotel(ctx, `
		INSERT INTO hotels (
			hotel_id, identity_id, name, phone, address_line, area, city, state, pincode,
			latitude, longitude, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
		ON CONFLICT (identity_id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			address_line = EXCLUDED.address_line,
			area = EXCLUDED.area,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			pincode = EXCLUDED.pincode,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			updated_at = EXCLUDED.updated_at
		RETURNING `+hotelColumns,
		uuid.NewString(), hotel.IdentityID, hotel.Name, hotel.Phone, hotel.AddressLine, hotel.Area, hotel.City,
		hotel.State, hotel.Pincode, hotel.Latitude, hotel.Longitude, now)
}

func (s *Store) queryHotel(ctx context.Context, query string, args ...any) (models.HotelProfile, error) {
	var hotel models.HotelProfile
	err := s.pool.QueryRow(ctx, query, args...).Scan(&hotel.HotelID, &hotel.IdentityID, &hotel.Name, &hotel.Phone,
		&hotel.AddressLine, &hotel.Area, &hotel.City, &hotel.State, &hotel.Pincode, &hotel.Latitude, &hotel.Longitude,
		&hotel.TotalFoodSaved, &hotel.CreatedAt, &hotel.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.HotelProfile{}, store.ErrProfileNotFound
		}
		return models.HotelProfile{}, err
	}
	return hotel, nil
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (models.AgentProfile, error) {
	if _, err := uuid.Parse(agentID); err != nil {
		return models.AgentProfile{}, store.ErrProfileNotFound
	}
	return s.queryAgent(ctx, `SELECT `+agentColumns+` FROM delivery_agents WHERE agent_id = $1`, agentID)
}

func (s *Store) GetAgentByIdentity(ctx context.Context, identityID string) (models.AgentProfile, error) {
	return s.queryAgent(ctx, `SELECT `+agentColumns+` FROM delivery_agents WHERE identity_id = $1`, identityID)
}

func (s *Store) SaveAgent(ctx context.Context, agent models.AgentProfile) (models.AgentProfile, error) {
	now := time.Now().UTC()
	return s.queryAgent(ctx, `
		INSERT INTO delivery_agents (
			agent_id, identity_id, name, phone, area, zone, unique_id, is_active,
			latitude, longitude, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,true,$8,$9,$10,$10)
		ON CONFLICT (identity_id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			area = EXCLUDED.area,
			zone = EXCLUDED.zone,
			unique_id = EXCLUDED.unique_id,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			updated_at = EXCLUDED.updated_at
		RETURNING `+agentColumns,
		uuid.NewString(), agent.IdentityID, agent.Name, agent.Phone, agent.Area, agent.Zone, agent.UniqueID,
		agent.Latitude, agent.Longitude, now)
}

func (s *Store) SetAgentActive(ctx context.Context, agentID string, active bool) (models.AgentProfile, error) {
	if _, err := uuid.Parse(agentID); err != nil {
		return models.AgentProfile{}, store.ErrProfileNotFound
	}
	return s.queryAgent(ctx, `
		UPDATE delivery_agents SET is_active = $1, updated_at = $2
		WHERE agent_id = $3
		RETURNING `+agentColumns, active, time.Now().UTC(), agentID)
}

func (s *Store) ListActiveAgents(ctx context.Context, area string) ([]models.AgentProfile, error) {
	query := `SELECT ` + agentColumns + ` FROM delivery_agents WHERE is_active`
	var args []any
	if area != "" {
		query += ` AND lower(area) = lower($1)`
		args = append(args, area)
	}
	query += ` ORDER BY agent_id`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []models.AgentProfile
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return agents, nil
}

func (s *Store) queryAgent(ctx context.Context, query string, args ...any) (models.AgentProfile, error) {
	agent, err := scanAgent(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AgentProfile{}, store.ErrProfileNotFound
		}
		return models.AgentProfile{}, err
	}
	return agent, nil
}

func scanAgent(row scanner) (models.AgentProfile, error) {
	var agent models.AgentProfile
	err := row.Scan(&agent.AgentID, &agent.IdentityID, &agent.Name, &agent.Phone, &agent.Area, &agent.Zone,
		&agent.UniqueID, &agent.IsActive, &agent.Latitude, &agent.Longitude, &agent.CreatedAt, &agent.UpdatedAt)
	return agent, err
}

func (s *Store) ListBeneficiaries(ctx context.Context) ([]models.Beneficiary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT beneficiary_id, name, area, city, latitude, longitude, preference, people_count, notes, created_at
		FROM beggars
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Beneficiary
	for rows.Next() {
		var b models.Beneficiary
		if err := rows.Scan(&b.BeneficiaryID, &b.Name, &b.Area, &b.City, &b.Latitude, &b.Longitude,
			&b.Preference, &b.PeopleCount, &b.Notes, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateBeneficiary(ctx context.Context, b models.Beneficiary) (models.Beneficiary, error) {
	b.BeneficiaryID = uuid.NewString()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO beggars (beneficiary_id, name, area, city, latitude, longitude, preference, people_count, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at
	`, b.BeneficiaryID, b.Name, b.Area, b.City, b.Latitude, b.Longitude, b.Preference, b.PeopleCount, b.Notes).Scan(&b.CreatedAt)
	if err != nil {
		return models.Beneficiary{}, err
	}
	return b, nil
}
