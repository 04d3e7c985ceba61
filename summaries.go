package sngan_go

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Summary Monitoring values of the last runs of both graphs. Discriminator-side values (d-losses, logits, image moments)
// come from the last discriminator iteration, so they describe the real batch that iteration was trained on. GLoss comes
// from the generator iteration, which consumes no real data.
//
// DLoss, DLossReal, DLossFake, GLoss - losses averaged over replicas
// LogitReal, LogitFake - mean logits averaged over replicas
// GeneratorMean, GeneratorVar, ImageMean, ImageVar - moments of replica #0 generated and real images
// SigmaRatios - value of every sigma_ratio variable
//
type Summary struct {
	GlobalStep int64
	DLoss      float64
	DLossReal  float64
	DLossFake  float64
	GLoss      float64
	LogitReal  float64
	LogitFake  float64

	GeneratorMean float64
	GeneratorVar  float64
	ImageMean     float64
	ImageVar      float64

	SigmaRatios map[string]float64
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"step %d: d_loss=%.5f (real=%.5f, fake=%.5f) g_loss=%.5f logit_real=%.5f logit_fake=%.5f",
		s.GlobalStep, s.DLoss, s.DLossReal, s.DLossFake, s.GLoss, s.LogitReal, s.LogitFake,
	)
}

// Moments Returns description of replica #0 generator output and real images
func (s Summary) Moments() string {
	return fmt.Sprintf("gen_mean=%.5f gen_var=%.5f img_mean=%.5f img_var=%.5f", s.GeneratorMean, s.GeneratorVar, s.ImageMean, s.ImageVar)
}

// SigmaRatiosString Returns sigma ratios sorted by variable name
func (s Summary) SigmaRatiosString() string {
	names := make([]string, 0, len(s.SigmaRatios))
	for name := range s.SigmaRatios {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%.5f", name, s.SigmaRatios[name])
	}
	return strings.Join(parts, " ")
}

// replicaValues Values of replica's monitoring nodes
type replicaValues struct {
	dLossReal gorgonia.Value
	dLossFake gorgonia.Value
	dLoss     gorgonia.Value
	gLoss     gorgonia.Value
	logitReal gorgonia.Value
	logitFake gorgonia.Value
}

// summaryReader Binds monitoring nodes to values read during graph run
type summaryReader struct {
	model    *SNGAN
	replicas []replicaValues

	generatorMean gorgonia.Value
	generatorVar  gorgonia.Value
	imageMean     gorgonia.Value
	imageVar      gorgonia.Value
	generated     gorgonia.Value
}

func newSummaryReader(m *SNGAN) *summaryReader {
	s := &summaryReader{
		model:    m,
		replicas: make([]replicaValues, len(m.replicas)),
	}
	for i, r := range m.replicas {
		gorgonia.Read(r.DLossReal, &s.replicas[i].dLossReal)
		gorgonia.Read(r.DLossFake, &s.replicas[i].dLossFake)
		gorgonia.Read(r.DLoss, &s.replicas[i].dLoss)
		gorgonia.Read(r.GLoss, &s.replicas[i].gLoss)
		gorgonia.Read(r.LogitRealMean, &s.replicas[i].logitReal)
		gorgonia.Read(r.LogitFakeMean, &s.replicas[i].logitFake)
	}
	if d := m.diagnostics; d != nil {
		gorgonia.Read(d.generatorMean, &s.generatorMean)
		gorgonia.Read(d.generatorVar, &s.generatorVar)
		gorgonia.Read(d.imageMean, &s.imageMean)
		gorgonia.Read(d.imageVar, &s.imageVar)
	}
	if len(m.replicas) > 0 {
		gorgonia.Read(m.replicas[0].GenPass.Generated, &s.generated)
	}
	return s
}

// Summaries Collects monitoring values of the last runs. Both graphs must have been run at least once.
func (m *SNGAN) Summaries() (Summary, error) {
	if !m.Built() {
		return Summary{}, invariantErrorf("model is not built")
	}
	return m.summaries.collect()
}

// GeneratedImages Returns replica #0 generator output of the last generator graph run
func (m *SNGAN) GeneratedImages() (gorgonia.Value, error) {
	if !m.Built() {
		return nil, invariantErrorf("model is not built")
	}
	if m.summaries.generated == nil {
		return nil, errors.New("generator graph has not been run yet")
	}
	return m.summaries.generated, nil
}

func (s *summaryReader) collect() (Summary, error) {
	sum := Summary{
		GlobalStep:  s.model.globalStep.Value(),
		SigmaRatios: make(map[string]float64, len(s.model.vars.Diagnostic)),
	}
	n := float64(len(s.replicas))
	for i := range s.replicas {
		rv := &s.replicas[i]
		fields := []struct {
			value gorgonia.Value
			dst   *float64
			name  string
		}{
			{rv.dLossReal, &sum.DLossReal, "d_loss_real"},
			{rv.dLossFake, &sum.DLossFake, "d_loss_fake"},
			{rv.dLoss, &sum.DLoss, "d_loss"},
			{rv.gLoss, &sum.GLoss, "g_loss"},
			{rv.logitReal, &sum.LogitReal, "logit_real"},
			{rv.logitFake, &sum.LogitFake, "logit_fake"},
		}
		for _, f := range fields {
			x, err := scalarOf(f.value)
			if err != nil {
				return Summary{}, errors.Wrapf(err, "Can't read %s of replica #%d", f.name, i)
			}
			*f.dst += x / n
		}
	}
	moments := []struct {
		value gorgonia.Value
		dst   *float64
	}{
		{s.generatorMean, &sum.GeneratorMean},
		{s.generatorVar, &sum.GeneratorVar},
		{s.imageMean, &sum.ImageMean},
		{s.imageVar, &sum.ImageVar},
	}
	for _, mo := range moments {
		if mo.value == nil {
			continue
		}
		x, err := scalarOf(mo.value)
		if err != nil {
			return Summary{}, errors.Wrap(err, "Can't read image moments")
		}
		*mo.dst = x
	}
	for _, v := range s.model.vars.Diagnostic {
		x, err := scalarOf(v.Value())
		if err != nil {
			return Summary{}, errors.Wrapf(err, "Can't read '%s'", v.Name)
		}
		sum.SigmaRatios[v.Name] = x
	}
	return sum, nil
}
