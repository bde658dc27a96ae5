// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package tier

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobpilot/platform/taskengine/tasks"
)

func TestStatic(t *testing.T) {
	s := Static{"coach-1": tasks.TierCoach, "weird": "platinum"}
	ctx := context.Background()

	assert.Equal(t, tasks.TierCoach, s.ResolveTier(ctx, "coach-1"))
	assert.Equal(t, tasks.TierFree, s.ResolveTier(ctx, "weird"))
	assert.Equal(t, tasks.TierFree, s.ResolveTier(ctx, "nobody"))
}

func newResolver(t *testing.T, ttl time.Duration) (*PostgresResolver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := NewPostgresResolver(db, ttl)
	r.logger = log.New(io.Discard, "", 0)
	return r, mock
}

func TestPostgresResolver(t *testing.T) {
	tests := []struct {
		name  string
		setup func(mock sqlmock.Sqlmock)
		want  tasks.Tier
	}{
		{
			name: "found",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT tier FROM user_profiles").WithArgs("u1").
					WillReturnRows(sqlmock.NewRows([]string{"tier"}).AddRow("premium"))
			},
			want: tasks.TierPremium,
		},
		{
			name: "no rows",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT tier FROM user_profiles").WithArgs("u1").
					WillReturnRows(sqlmock.NewRows([]string{"tier"}))
			},
			want: tasks.TierFree,
		},
		{
			name: "unknown tier value",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT tier FROM user_profiles").WithArgs("u1").
					WillReturnRows(sqlmock.NewRows([]string{"tier"}).AddRow("enterprise"))
			},
			want: tasks.TierFree,
		},
		{
			name: "database error",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT tier FROM user_profiles").WithArgs("u1").
					WillReturnError(errors.New("connection refused"))
			},
			want: tasks.TierFree,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mock := newResolver(t, 0)
			tt.setup(mock)

			assert.Equal(t, tt.want, r.ResolveTier(context.Background(), "u1"))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresResolver_AnonymousSkipsQuery(t *testing.T) {
	r, mock := newResolver(t, 0)
	assert.Equal(t, tasks.TierFree, r.ResolveTier(context.Background(), ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolver_Cache(t *testing.T) {
	r, mock := newResolver(t, time.Minute)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	mock.ExpectQuery("SELECT tier FROM user_profiles").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"tier"}).AddRow("pro"))
	mock.ExpectQuery("SELECT tier FROM user_profiles").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"tier"}).AddRow("coach"))

	ctx := context.Background()
	assert.Equal(t, tasks.TierPro, r.ResolveTier(ctx, "u1"))
	assert.Equal(t, tasks.TierPro, r.ResolveTier(ctx, "u1"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, tasks.TierCoach, r.ResolveTier(ctx, "u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
