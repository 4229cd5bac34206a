package candidates

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kis-trader/engine/internal/domain"
)

type stubRanking struct {
	stocks []domain.CandidateStock
	err    error
}

func (s *stubRanking) GetTopGainersRanking(ctx context.Context, limit int) ([]domain.CandidateStock, error) {
	return s.stocks, s.err
}

func disabledLog() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

func stock(symbol string, price, change, volRatio float64) domain.CandidateStock {
	return domain.CandidateStock{
		Symbol:               symbol,
		LastPrice:            price,
		IntradayChangeRate:   change,
		VolumeRatioVsPrevDay: volRatio,
	}
}

func TestSelectCandidates_FiltersPriceBandAndFloors(t *testing.T) {
	ranking := &stubRanking{stocks: []domain.CandidateStock{
		stock("000001", 4000, 10, 3.0),   // below price band
		stock("000002", 200000, 10, 3.0), // above price band
		stock("000003", 50000, 2, 3.0),   // below change floor
		stock("000004", 50000, 10, 1.0),  // below volume ratio floor
		stock("000005", 50000, 10, 3.0),  // passes
	}}
	p := New(ranking, disabledLog())

	out, err := p.SelectCandidates(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "000005", out[0].Symbol)
}

func TestSelectCandidates_DropsCurrentHoldings(t *testing.T) {
	ranking := &stubRanking{stocks: []domain.CandidateStock{
		stock("000005", 50000, 10, 3.0),
		stock("000006", 50000, 12, 4.0),
	}}
	p := New(ranking, disabledLog())

	holdings := map[string]domain.Position{"000005": {Symbol: "000005"}}
	out, err := p.SelectCandidates(context.Background(), holdings)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "000006", out[0].Symbol)
}

func TestSelectCandidates_SortsByCompositeScoreDescending(t *testing.T) {
	ranking := &stubRanking{stocks: []domain.CandidateStock{
		stock("000001", 50000, 6, 2.0),  // score 8
		stock("000002", 50000, 10, 5.0), // score 15
		stock("000003", 50000, 8, 3.0),  // score 11
	}}
	p := New(ranking, disabledLog())

	out, err := p.SelectCandidates(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "000002", out[0].Symbol)
	assert.Equal(t, "000003", out[1].Symbol)
	assert.Equal(t, "000001", out[2].Symbol)
}

func TestSelectCandidates_CapsAtTen(t *testing.T) {
	stocks := make([]domain.CandidateStock, 0, 15)
	for i := 0; i < 15; i++ {
		stocks = append(stocks, stock(string(rune('A'+i)), 50000, 10, 3.0))
	}
	ranking := &stubRanking{stocks: stocks}
	p := New(ranking, disabledLog())

	out, err := p.SelectCandidates(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, out, maxCandidates)
}

func TestSelectCandidates_ReturnsServerUnresponsiveWhenRankingFailsAndNoFallback(t *testing.T) {
	ranking := &stubRanking{err: errors.New("broker unreachable")}
	p := New(ranking, disabledLog())

	out, err := p.SelectCandidates(context.Background(), nil)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrServerUnresponsive)
}

func TestSelectCandidates_FallsBackToThemesOnRankingFailure(t *testing.T) {
	ranking := &stubRanking{err: errors.New("broker unreachable")}
	p := New(ranking, disabledLog(), WithThemeFallback(NewDefaultThemeSource()))

	out, err := p.SelectCandidates(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestSelectCandidates_FallbackExcludesCurrentHoldings(t *testing.T) {
	ranking := &stubRanking{err: errors.New("broker unreachable")}
	p := New(ranking, disabledLog(), WithThemeFallback(NewDefaultThemeSource()))

	out, err := p.SelectCandidates(context.Background(), map[string]domain.Position{"005930": {Symbol: "005930"}})
	require.NoError(t, err)
	for _, cs := range out {
		assert.NotEqual(t, "005930", cs.Symbol)
	}
}
