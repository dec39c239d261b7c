// internal/template/store.go
package template

import (
	"context"
	"database/sql"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store holds per-tenant, per-channel message templates. Implementations must
// be safe for unsynchronized concurrent reads; the store is read-mostly.
type Store interface {
	// ResolveActiveDefault returns the single active default template for the
	// (tenant, name, channel) tuple. Zero matches is a TEMPLATE_NOT_FOUND
	// configuration error; more than one is TEMPLATE_AMBIGUOUS. There is no
	// silent fallback.
	ResolveActiveDefault(ctx context.Context, tenantID, name string, channel models.Channel) (*models.MessageTemplate, error)

	Create(ctx context.Context, tmpl *models.MessageTemplate) error
	Update(ctx context.Context, tmpl *models.MessageTemplate) error
	Delete(ctx context.Context, tenantID, name string, channel models.Channel) error
	Get(ctx context.Context, tenantID, name string, channel models.Channel) (*models.MessageTemplate, error)
	List(ctx context.Context, tenantID string) ([]models.MessageTemplate, error)
}

// PostgresStore persists templates in the message_templates table.
// Uniqueness on (tenant_id, name, channel) is enforced by a unique index.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const templateColumns = `id, tenant_id, name, channel, body_template, subject_template, required_variables, active, is_default, created_at, updated_at`

func scanTemplate(row interface{ Scan(...interface{}) error }) (*models.MessageTemplate, error) {
	var t models.MessageTemplate
	var channel string
	if err := row.Scan(
		&t.ID, &t.TenantID, &t.Name, &channel, &t.BodyTemplate, &t.SubjectTemplate,
		pq.Array(&t.RequiredVariables), &t.Active, &t.IsDefault, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Channel = models.Channel(channel)
	return &t, nil
}

func (s *PostgresStore) ResolveActiveDefault(ctx context.Context, tenantID, name string, channel models.Channel) (*models.MessageTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM message_templates
		WHERE tenant_id = $1 AND name = $2 AND channel = $3 AND active AND is_default`,
		tenantID, name, string(channel))
	if err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}
	defer rows.Close()

	var matches []*models.MessageTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, errors.NewStorageUnavailableError(err)
		}
		matches = append(matches, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}

	switch len(matches) {
	case 0:
		return nil, errors.NewTemplateNotFoundError(tenantID, name, string(channel))
	case 1:
		return matches[0], nil
	default:
		return nil, errors.NewTemplateAmbiguousError(tenantID, name, string(channel), len(matches))
	}
}

func (s *PostgresStore) Create(ctx context.Context, tmpl *models.MessageTemplate) error {
	if tmpl.ID == "" {
		tmpl.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_templates
			(id, tenant_id, name, channel, body_template, subject_template, required_variables, active, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tmpl.ID, tmpl.TenantID, tmpl.Name, string(tmpl.Channel), tmpl.BodyTemplate, tmpl.SubjectTemplate,
		pq.Array(tmpl.RequiredVariables), tmpl.Active, tmpl.IsDefault, tmpl.CreatedAt, tmpl.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.NewTemplateConflictError(tmpl.TenantID, tmpl.Name, string(tmpl.Channel))
		}
		return errors.NewStorageUnavailableError(err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, tmpl *models.MessageTemplate) error {
	tmpl.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE message_templates
		SET body_template = $4, subject_template = $5, required_variables = $6,
		    active = $7, is_default = $8, updated_at = $9
		WHERE tenant_id = $1 AND name = $2 AND channel = $3`,
		tmpl.TenantID, tmpl.Name, string(tmpl.Channel), tmpl.BodyTemplate, tmpl.SubjectTemplate,
		pq.Array(tmpl.RequiredVariables), tmpl.Active, tmpl.IsDefault, tmpl.UpdatedAt)
	if err != nil {
		return errors.NewStorageUnavailableError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewTemplateNotFoundError(tmpl.TenantID, tmpl.Name, string(tmpl.Channel))
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, tenantID, name string, channel models.Channel) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM message_templates
		WHERE tenant_id = $1 AND name = $2 AND channel = $3`,
		tenantID, name, string(channel))
	if err != nil {
		return errors.NewStorageUnavailableError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewTemplateNotFoundError(tenantID, name, string(channel))
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, name string, channel models.Channel) (*models.MessageTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+`
		FROM message_templates
		WHERE tenant_id = $1 AND name = $2 AND channel = $3`,
		tenantID, name, string(channel))

	t, err := scanTemplate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewTemplateNotFoundError(tenantID, name, string(channel))
		}
		return nil, errors.NewStorageUnavailableError(err)
	}
	return t, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string) ([]models.MessageTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM message_templates
		WHERE tenant_id = $1
		ORDER BY name, channel`,
		tenantID)
	if err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}
	defer rows.Close()

	var out []models.MessageTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, errors.NewStorageUnavailableError(err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}
	return out, nil
}
