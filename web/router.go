package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/metrics"
	"github.com/deemkeen/mammut/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

func Router(conf *util.AppConfig, fed *activitypub.Federation) error {
	log.Printf("Starting HTTP server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	g.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"name":    util.Name,
			"version": util.GetVersion(),
		})
	})

	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	// RSS Feed
	g.GET("/feed", func(c *gin.Context) {

		c.Header("Content-Type", "application/xml; charset=utf-8")

		username := c.Query("username")
		rss, err := GetRSS(conf, username)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	g.GET("/feed/:id", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		name := c.Param("id")
		feedId, err := uuid.Parse(name)
		if err != nil {
			c.Render(404, render.String{Format: ""})
			return
		}

		rssItem, err := GetRSSItem(conf, feedId)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rssItem})
		}
	})

	// Endpoints for the ActivityPub functionality
	if conf.Conf.WithAp {
		// Stricter rate limit for ActivityPub endpoints: 5 req/sec per IP
		apLimiter := NewRateLimiter(rate.Limit(5), 10)

		// Max 1MB request body size for ActivityPub activities
		maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024) // 1MB

		// Serve individual notes as ActivityPub objects
		g.GET("/notes/:id", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")

			noteIdStr := c.Param("id")
			noteId, err := uuid.Parse(noteIdStr)
			if err != nil {
				c.JSON(404, gin.H{"error": "Invalid note ID"})
				return
			}

			err, note := GetNoteObject(fed, noteId)
			if err != nil {
				c.JSON(404, gin.H{"error": "Note not found"})
			} else {
				c.Render(200, render.String{Format: note})
			}
		})

		g.GET("/users/:actor", func(c *gin.Context) {

			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, actor := GetActor(fed, c.Param("actor"))
			if err != nil {
				c.Render(404, render.String{Format: actor})
			} else {
				c.Render(200, render.String{Format: actor})
			}
		})

		g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
			log.Println("POST /inbox (shared inbox)")
			body, err := c.GetRawData()
			if err != nil {
				log.Printf("Shared inbox: Failed to read body: %v", err)
				c.Status(400)
				return
			}

			targetUsername := resolveSharedInboxTarget(fed, body)
			if targetUsername == "" {
				log.Println("Shared inbox: Could not determine target user")
				c.Status(202) // Accept anyway to be nice
				return
			}

			log.Printf("Shared inbox: Routing to user %s", targetUsername)
			req := c.Request.Clone(c.Request.Context())
			req.Body = io.NopCloser(bytes.NewReader(body))
			fed.HandleInbox(c.Writer, req, targetUsername)
		})

		g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
			actor := c.Param("actor")
			log.Printf("POST /users/%s/inbox", actor)
			fed.HandleInbox(c.Writer, c.Request, actor)
		})

		g.GET("/users/:actor/outbox", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			page := ParsePageParam(c.Query("page"))
			err, outbox := GetOutbox(fed, c.Param("actor"), page)
			if err != nil {
				c.Render(404, render.String{Format: "{}"})
			} else {
				c.Render(200, render.String{Format: outbox})
			}
		})

		g.GET("/users/:actor/followers", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, collection := GetFollowersCollection(fed, c.Param("actor"))
			if err != nil {
				c.Render(404, render.String{Format: "{}"})
			} else {
				c.Render(200, render.String{Format: collection})
			}
		})

		g.GET("/users/:actor/following", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			c.Render(200, render.String{Format: "{}"})
		})

		g.GET("/.well-known/webfinger", func(c *gin.Context) {
			c.Header("Content-Type", "application/json; charset=utf-8")

			resource := c.Query("resource")
			if resource == "" || !strings.HasPrefix(resource, "acct:") {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
			} else {
				resource = strings.TrimPrefix(resource, "acct:")
				resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", conf.Conf.SslDomain))
				err, resp := GetWebfinger(fed, resource)
				if err != nil {
					c.Render(404, render.String{Format: GetWebFingerNotFound()})
				} else {
					c.Render(200, render.String{Format: resp})
				}
			}
		})

	}
	err := g.Run(fmt.Sprintf(":%d", conf.Conf.HttpPort))
	if err != nil {
		return err
	}
	return nil
}

// resolveSharedInboxTarget picks the local user an activity posted to the
// shared inbox is meant for, from its addressing fields or, failing that,
// from the follow graph of its sender.
func resolveSharedInboxTarget(fed *activitypub.Federation, body []byte) string {
	var activity map[string]interface{}
	if err := json.Unmarshal(body, &activity); err != nil {
		log.Printf("Shared inbox: Failed to parse activity: %v", err)
		return ""
	}

	localDomain := fed.Conf.Conf.SslDomain

	extractUsername := func(uri string) string {
		// Only our own actor URIs count: https://domain/users/username
		if strings.Contains(uri, localDomain) && strings.Contains(uri, "/users/") {
			parts := strings.Split(uri, "/")
			for i, part := range parts {
				if part == "users" && i+1 < len(parts) {
					username := parts[i+1]
					// Strip /followers or /following suffixes
					if slashIdx := strings.Index(username, "/"); slashIdx > 0 {
						username = username[:slashIdx]
					}
					return username
				}
			}
		}
		return ""
	}

	fromField := func(field string) string {
		values, ok := activity[field].([]interface{})
		if !ok {
			return ""
		}
		for _, value := range values {
			if uri, ok := value.(string); ok {
				if username := extractUsername(uri); username != "" {
					return username
				}
			}
		}
		return ""
	}

	if username := fromField("to"); username != "" {
		return username
	}
	if username := fromField("cc"); username != "" {
		return username
	}

	// Follow activities address the target in the object field
	if objStr, ok := activity["object"].(string); ok {
		if username := extractUsername(objStr); username != "" {
			return username
		}
	}

	// Create/Update/Delete from a followed actor: route to one of the
	// local followers of the sender.
	actorURI, _ := activity["actor"].(string)
	if actorURI == "" {
		return ""
	}
	err, remoteActor := fed.Local.ReadRemoteAccountByActorURI(actorURI)
	if err != nil || remoteActor == nil {
		log.Printf("Shared inbox: Remote actor %s not found in cache", actorURI)
		return ""
	}
	err, followers := db.GetDB().ReadFollowersByAccountId(remoteActor.Id)
	if err != nil || followers == nil || len(*followers) == 0 {
		log.Printf("Shared inbox: No local followers found for %s", actorURI)
		return ""
	}
	err, localAccount := fed.Accounts.ReadAccById((*followers)[0].AccountId)
	if err != nil || localAccount == nil {
		return ""
	}
	return localAccount.Username
}
