package builtin

import "github.com/mediaforge-io/mediaforge/internal/actions"

// RegisterAll adds the built-in actions to the registry. The audio
// converter is registered without a transcoder; deployments with a
// codec toolchain replace it before Freeze.
func RegisterAll(r *actions.Registry) error {
	for _, desc := range []actions.Descriptor{
		ImgMetadata(),
		ImgResize(),
		AudFormatConvert(nil),
	} {
		if err := r.Register(desc); err != nil {
			return err
		}
	}
	return nil
}
