package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "research_jobs", []string{"id", "type"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"research_jobs"}, []string{"id", "type"}).WillReturnResult(2)

	rows := [][]any{{"job-1", "port"}, {"job-2", "terminal"}}
	n, err := CopyFrom(context.Background(), mock, "research_jobs", []string{"id", "type"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"research_jobs"}, []string{"id"}).
		WillReturnError(eris.New("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "research_jobs", []string{"id"}, [][]any{{"job-1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO research_jobs")
	assert.NoError(t, mock.ExpectationsWereMet())
}
