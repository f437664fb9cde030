package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
)

// promptScene asks for an image to dream from and whether to start playing
// as soon as the scene is ready.
func promptScene() (image string, autoplay bool, err error) {
	autoplay = true
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Image URL").
				Description("An https:// link or a data:image URL").
				Value(&image).
				Validate(validateImage),
			huh.NewConfirm().
				Title("Start playback when the scene is ready?").
				Affirmative("Play").
				Negative("Wait").
				Value(&autoplay),
		),
	)
	if err := form.Run(); err != nil {
		return "", false, fmt.Errorf("failed to get scene input: %w", err)
	}
	return strings.TrimSpace(image), autoplay, nil
}

func validateImage(s string) error {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return errors.New("an image is required")
	case strings.HasPrefix(s, "https://"), strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "data:image/"):
		return nil
	}
	return errors.New("must start with https://, http:// or data:image/")
}
