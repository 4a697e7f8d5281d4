package texture

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
)

// letterPadding surrounds the glyphs on every side, in pixels.
const letterPadding = 20

// Provider implements sharedcamera.TextureProvider with a bitmap font.
type Provider struct {
	store *Store
	face  font.Face

	mu     sync.Mutex
	letter sharedcamera.TextureID
}

// NewProvider returns a provider rendering with basicfont.Face7x13.
func NewProvider(store *Store) *Provider {
	return &Provider{store: store, face: basicfont.Face7x13}
}

// Generate rasterizes text into a new texture sized to fit the glyphs.
func (p *Provider) Generate(text string) (sharedcamera.TextureID, error) {
	img, err := p.render(text)
	if err != nil {
		return 0, err
	}
	id := p.store.Allocate(img)

	p.mu.Lock()
	if p.letter == 0 {
		p.letter = id
	}
	p.mu.Unlock()

	slog.Debug("texture: text texture generated", "text", text, "id", id, "size", img.Bounds().Size())
	return id, nil
}

// UpdateLetter re-renders the letter texture in place, keeping its handle.
func (p *Provider) UpdateLetter(text string) (sharedcamera.TextureID, error) {
	p.mu.Lock()
	id := p.letter
	p.mu.Unlock()

	if id == 0 {
		return p.Generate(text)
	}

	img, err := p.render(text)
	if err != nil {
		return 0, err
	}
	if !p.store.Replace(id, img) {
		return 0, fmt.Errorf("texture: letter texture %d released", id)
	}
	slog.Debug("texture: letter texture updated", "text", text, "id", id)
	return id, nil
}

func (p *Provider) render(text string) (*image.RGBA, error) {
	if text == "" {
		return nil, fmt.Errorf("texture: empty text")
	}

	bounds, advance := font.BoundString(p.face, text)
	width := max(advance.Ceil(), (bounds.Max.X - bounds.Min.X).Ceil())
	ascent := (-bounds.Min.Y).Ceil()
	height := (bounds.Max.Y - bounds.Min.Y).Ceil()

	img := image.NewRGBA(image.Rect(0, 0, width+2*letterPadding, height+2*letterPadding))
	draw.Draw(img, img.Bounds(), image.Transparent, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: p.face,
		Dot:  fixed.P(letterPadding-bounds.Min.X.Floor(), letterPadding+ascent),
	}
	d.DrawString(text)

	return img, nil
}
