package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
	"github.com/gorilla/feeds"
)

func GetRSS(conf *util.AppConfig, username string) (string, error) {

	var err error
	var all *[]domain.Note
	var title string
	var createdBy string
	var email string

	link := fmt.Sprintf("http://%s:%d/feed", conf.Conf.Host, conf.Conf.HttpPort)

	if username != "" {
		err, all = db.GetDB().ReadNotesByUsername(username)
		if err != nil || all == nil {
			log.Println(fmt.Sprintf("Could not get notes from %s!", username), err)
			return "", errors.New("error retrieving notes by username")
		}
		title = fmt.Sprintf("Mammut Notes - %s", username)
		link = fmt.Sprintf("%s?username=%s", link, username)
	} else {
		err, all = db.GetDB().ReadAllNotes()
		if err != nil || all == nil {
			log.Println("Could not get notes!", err)
			return "", errors.New("error retrieving notes")
		}
		title = "All Mammut Notes"
	}

	// The feed is a public surface just like the outbox
	notes := filterPublicNotes(*all)
	if len(notes) == 0 {
		return "", errors.New("no public notes to list")
	}

	if username != "" {
		createdBy = notes[0].CreatedBy
	} else {
		createdBy = "everyone"
	}
	email = fmt.Sprintf("%s@mammut", createdBy)

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: link},
		Description: "mammut notes feed",
		Author:      &feeds.Author{Name: createdBy, Email: email},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, note := range notes {
		email := fmt.Sprintf("%s@mammut", note.CreatedBy)
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      note.Id.String(),
				Title:   note.CreatedAt.Format(util.DateTimeFormat()),
				Link:    &feeds.Link{Href: fmt.Sprintf("http://%s:%d/feed/%s", conf.Conf.Host, conf.Conf.HttpPort, note.Id)},
				Content: note.Message,
				Author:  &feeds.Author{Name: note.CreatedBy, Email: email},
				Created: note.CreatedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}

func GetRSSItem(conf *util.AppConfig, id uuid.UUID) (string, error) {
	err, note := db.GetDB().ReadNoteId(id)

	if err != nil || note == nil {
		log.Println("Could not get note!", err)
		return "", errors.New("error retrieving note by id")
	}

	// Non-public notes are indistinguishable from missing ones
	if len(filterPublicNotes([]domain.Note{*note})) == 0 {
		return "", errors.New("error retrieving note by id")
	}

	email := fmt.Sprintf("%s@mammut", note.CreatedBy)
	url := fmt.Sprintf("http://%s:%d/feed/%s", conf.Conf.Host, conf.Conf.HttpPort, note.Id)

	feed := &feeds.Feed{
		Title:       "Single Mammut Note",
		Link:        &feeds.Link{Href: url},
		Description: "mammut notes feed",
		Author:      &feeds.Author{Name: note.CreatedBy, Email: email},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item

	feedItems = append(feedItems,
		&feeds.Item{
			Id:      note.Id.String(),
			Title:   note.CreatedAt.Format(util.DateTimeFormat()),
			Link:    &feeds.Link{Href: url},
			Content: note.Message,
			Author:  &feeds.Author{Name: note.CreatedBy, Email: email},
			Created: note.CreatedAt,
		})

	feed.Items = feedItems
	return feed.ToRss()
}
