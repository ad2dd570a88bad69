package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qserv/qserv/internal/qmeta"
)

func TestParse_SimpleSelect(t *testing.T) {
	p := NewParser()
	plan, err := p.Parse("SELECT objectId, ra, decl FROM Object WHERE ra > 10")
	require.NoError(t, err)
	require.Len(t, plan.Tables, 1)
	assert.Equal(t, "Object", plan.Tables[0].Table)
}

func TestParse_RejectsEmptyQuery(t *testing.T) {
	p := NewParser()
	_, err := p.Parse("   ")
	assert.Error(t, err)
}

func TestParse_RejectsWrites(t *testing.T) {
	p := NewParser()
	_, err := p.Parse("DELETE FROM Object WHERE objectId = 1")
	assert.Error(t, err)
}

func TestParse_RejectsMultipleStatements(t *testing.T) {
	p := NewParser()
	_, err := p.Parse("SELECT 1 FROM Object; SELECT 2 FROM Object")
	assert.Error(t, err)
}

func TestParse_RejectsSubqueryInFrom(t *testing.T) {
	p := NewParser()
	_, err := p.Parse("SELECT * FROM (SELECT objectId FROM Object) AS t")
	assert.Error(t, err)
}

func TestParse_RejectsUnderscorePrefixedTable(t *testing.T) {
	p := NewParser()
	_, err := p.Parse("SELECT * FROM _scratch_1_2")
	assert.Error(t, err)
}

func TestParse_RejectsDisallowedDatabase(t *testing.T) {
	p := NewParser("information_schema")
	_, err := p.Parse("SELECT * FROM information_schema.tables")
	assert.Error(t, err)
}

func TestParse_ExtractsBoxRestrictor(t *testing.T) {
	p := NewParser()
	plan, err := p.Parse("SELECT objectId FROM Object WHERE qserv_areaspec_box(0, 0, 1, 1)")
	require.NoError(t, err)
	require.Len(t, plan.Restrictors, 1)
	assert.Equal(t, qmeta.RestrictorAreaBox, plan.Restrictors[0].Kind)
	assert.NotNil(t, plan.Restrictors[0].Shape)
}

func TestParse_ExtractsCircleRestrictorAlongsideOtherPredicate(t *testing.T) {
	p := NewParser()
	plan, err := p.Parse("SELECT objectId FROM Object WHERE qserv_areaspec_circle(10, 20, 0.5) AND mag_r < 20")
	require.NoError(t, err)
	require.Len(t, plan.Restrictors, 1)
	assert.Equal(t, qmeta.RestrictorAreaCircle, plan.Restrictors[0].Kind)
}

func TestParse_RejectsOversizedBox(t *testing.T) {
	p := NewParser()
	_, err := p.Parse("SELECT objectId FROM Object WHERE qserv_areaspec_box(0, -10, 181, 10)")
	assert.Error(t, err)
}

func TestParse_ExtractsObjectIdRestrictor(t *testing.T) {
	p := NewParser()
	plan, err := p.Parse("SELECT objectId FROM Object WHERE qserv_objectId(1, 2, 3)")
	require.NoError(t, err)
	require.Len(t, plan.Restrictors, 1)
	assert.Equal(t, qmeta.RestrictorObjectID, plan.Restrictors[0].Kind)
	assert.Equal(t, []int64{1, 2, 3}, plan.Restrictors[0].IDs)
}

func TestParse_DetectsPositionalOrderBy(t *testing.T) {
	p := NewParser()
	plan, err := p.Parse("SELECT objectId, ra FROM Object ORDER BY 1")
	require.NoError(t, err)
	assert.True(t, plan.HasPositionalOrderBy)
}

func TestParse_JoinExtractsBothTables(t *testing.T) {
	p := NewParser()
	plan, err := p.Parse("SELECT o.objectId FROM Object o JOIN Source s ON o.objectId = s.objectId")
	require.NoError(t, err)
	require.Len(t, plan.Tables, 2)
	assert.Equal(t, "o", plan.Tables[0].Alias)
	assert.Equal(t, "s", plan.Tables[1].Alias)
}
