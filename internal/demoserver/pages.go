package demoserver

// PageVersion is one rendition of a demo page.
type PageVersion struct {
	HTML        string
	ContentType string
	Headers     map[string]string
}

// PageDefinition holds all versions of a single page. Version 1 carries
// the accessibility defects, later versions fix them.
type PageDefinition struct {
	Path        string
	Description string
	Defects     []string
	Versions    map[int]PageVersion
}

// GetAllPages returns all demo page definitions.
func GetAllPages() []PageDefinition {
	return []PageDefinition{
		getHomePage(),
		getSignupPage(),
		getGalleryPage(),
		getVideoPage(),
		getAboutPage(),
	}
}

// ===== HOME PAGE =====

func getHomePage() PageDefinition {
	return PageDefinition{
		Path:        "/",
		Description: "Landing page with an unlabelled logo and an icon-only link",
		Defects:     []string{"html-has-lang", "document-title", "image-alt", "link-name"},
		Versions: map[int]PageVersion{
			1: {HTML: `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
    <header>
        <img src="/static/logo.png">
        <nav>
            <a href="/signup">Sign up</a>
            <a href="/gallery">Gallery</a>
            <a href="/video">Video</a>
            <a href="/about"><span class="icon-info"></span></a>
        </nav>
    </header>
    <main>
        <h1>Welcome to Acme Widgets</h1>
        <p>The finest widgets since 1987.</p>
    </main>
</body>
</html>`},
			2: {HTML: `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>Acme Widgets</title>
</head>
<body>
    <header>
        <img src="/static/logo.png" alt="Acme Widgets logo">
        <nav>
            <a href="/signup">Sign up</a>
            <a href="/gallery">Gallery</a>
            <a href="/video">Video</a>
            <a href="/about" aria-label="About us"><span class="icon-info"></span></a>
        </nav>
    </header>
    <main>
        <h1>Welcome to Acme Widgets</h1>
        <p>The finest widgets since 1987.</p>
    </main>
</body>
</html>`},
		},
	}
}

// ===== SIGNUP PAGE =====

func getSignupPage() PageDefinition {
	return PageDefinition{
		Path:        "/signup",
		Description: "Form with placeholder-only inputs, an icon button and zoom disabled",
		Defects:     []string{"label", "button-name", "meta-viewport"},
		Versions: map[int]PageVersion{
			1: {HTML: `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1, maximum-scale=1, user-scalable=no">
    <title>Sign up - Acme Widgets</title>
</head>
<body>
    <main>
        <h1>Create an account</h1>
        <form action="/signup" method="POST">
            <input type="text" name="name" placeholder="Full name">
            <input type="email" name="email" placeholder="Email">
            <select name="plan">
                <option>Free</option>
                <option>Pro</option>
            </select>
            <input type="hidden" name="csrf" value="demo">
            <button type="button" class="icon-help"></button>
            <button type="submit">Create account</button>
        </form>
    </main>
</body>
</html>`},
			2: {HTML: `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>Sign up - Acme Widgets</title>
</head>
<body>
    <main>
        <h1>Create an account</h1>
        <form action="/signup" method="POST">
            <label for="name">Full name</label>
            <input id="name" type="text" name="name">
            <label for="email">Email</label>
            <input id="email" type="email" name="email">
            <label>Plan
                <select name="plan">
                    <option>Free</option>
                    <option>Pro</option>
                </select>
            </label>
            <input type="hidden" name="csrf" value="demo">
            <button type="button" class="icon-help" aria-label="Help"></button>
            <button type="submit">Create account</button>
        </form>
    </main>
</body>
</html>`},
		},
	}
}

// ===== GALLERY PAGE =====

func getGalleryPage() PageDefinition {
	return PageDefinition{
		Path:        "/gallery",
		Description: "Image grid with missing alt text and copy-pasted ids",
		Defects:     []string{"image-alt", "duplicate-id"},
		Versions: map[int]PageVersion{
			1: {HTML: `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <title>Gallery - Acme Widgets</title>
</head>
<body>
    <main>
        <h1>Gallery</h1>
        <figure id="item"><img src="/static/w1.jpg"></figure>
        <figure id="item"><img src="/static/w2.jpg"></figure>
        <figure id="item"><img src="/static/w3.jpg"><figcaption>Widget 3</figcaption></figure>
        <img src="/static/divider.png" role="presentation">
    </main>
</body>
</html>`},
			2: {HTML: `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <title>Gallery - Acme Widgets</title>
</head>
<body>
    <main>
        <h1>Gallery</h1>
        <figure id="item-1"><img src="/static/w1.jpg" alt="Blue widget"></figure>
        <figure id="item-2"><img src="/static/w2.jpg" alt="Red widget"></figure>
        <figure id="item-3"><img src="/static/w3.jpg" alt=""><figcaption>Widget 3</figcaption></figure>
        <img src="/static/divider.png" role="presentation">
    </main>
</body>
</html>`},
		},
	}
}

// ===== VIDEO PAGE =====

func getVideoPage() PageDefinition {
	return PageDefinition{
		Path:        "/video",
		Description: "Embedded player without a frame title",
		Defects:     []string{"frame-title"},
		Versions: map[int]PageVersion{
			1: {HTML: `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <title>Video - Acme Widgets</title>
</head>
<body>
    <main>
        <h1>Widgets in action</h1>
        <iframe src="/static/player.html" width="640" height="360"></iframe>
    </main>
</body>
</html>`},
			2: {HTML: `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <title>Video - Acme Widgets</title>
</head>
<body>
    <main>
        <h1>Widgets in action</h1>
        <iframe src="/static/player.html" width="640" height="360" title="Widget demo video"></iframe>
    </main>
</body>
</html>`},
		},
	}
}

// ===== ABOUT PAGE =====

func getAboutPage() PageDefinition {
	return PageDefinition{
		Path:        "/about",
		Description: "Control page with no defects in any version",
		Versions: map[int]PageVersion{
			1: {HTML: `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>About - Acme Widgets</title>
</head>
<body>
    <main>
        <h1>About us</h1>
        <p>Acme Widgets is a family business.</p>
        <a href="/">Back home</a>
    </main>
</body>
</html>`},
		},
	}
}
